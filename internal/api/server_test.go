package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/simulator"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Ingestion.RateLimit = 500
	cfg.Billing.ReportingIntervalSeconds = 0
	cfg.Aging.ReportingIntervalSeconds = 0
	cfg.Payers = []config.PayerConfig{{
		PayerID:           "P1",
		Name:              "Payer One",
		ProcessingDelayMS: config.DelayRange{MinMS: 0, MaxMS: 1},
		Adjudication:      config.AdjudicationRules{PayerPercentage: 0.8},
	}}
	return &cfg
}

func validClaims(n int) []model.Claim {
	claims := make([]model.Claim, 0, n)
	for i := 0; i < n; i++ {
		claims = append(claims, model.Claim{
			ClaimID:   "CLM-" + string(rune('A'+i)),
			Patient:   model.Patient{FirstName: "Jane", LastName: "Doe"},
			Insurance: model.Insurance{PayerID: "P1"},
			ServiceLines: []model.ServiceLine{{
				ServiceLineID:    "L1",
				Details:          "Office visit",
				UnitChargeAmount: 100,
				Units:            1,
				Currency:         "USD",
			}},
		})
	}
	return claims
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	srv, err := NewServer(testConfig(), simulator.Options{}, nil, nil)
	require.NoError(t, err)
	return srv, srv.Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestStatus_BeforeStart(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, "GET", "/api/v1/simulator/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var st simulator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.Ingestion.ClaimsIngested)
}

func TestStartStop_RoundTrip(t *testing.T) {
	srv, router := newTestServer(t)

	rec := doJSON(t, router, "POST", "/api/v1/simulator/start",
		startRequest{Claims: validClaims(3)})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return srv.current().Billing().Summary().TotalClaims == 3
	}, 10*time.Second, 20*time.Millisecond)

	rec = doJSON(t, router, "POST", "/api/v1/simulator/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stopBody struct {
		Status  string `json:"status"`
		Billing struct {
			TotalClaims int `json:"total_claims"`
		} `json:"billing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopBody))
	assert.Equal(t, "stopped", stopBody.Status)
	assert.Equal(t, 3, stopBody.Billing.TotalClaims)
}

func TestStart_RejectsEmptyBody(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, "POST", "/api/v1/simulator/start", startRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStart_RejectsAllInvalidClaims(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, "POST", "/api/v1/simulator/start",
		startRequest{Claims: []model.Claim{{ClaimID: "no-patient"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStart_SecondRunGetsFreshPipeline(t *testing.T) {
	srv, router := newTestServer(t)

	rec := doJSON(t, router, "POST", "/api/v1/simulator/start",
		startRequest{Claims: validClaims(2)})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return srv.current().Billing().Summary().TotalClaims == 2
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, http.StatusOK, doJSON(t, router, "POST", "/api/v1/simulator/stop", nil).Code)

	rec = doJSON(t, router, "POST", "/api/v1/simulator/start",
		startRequest{Claims: validClaims(1)})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return srv.current().Billing().Summary().TotalClaims == 1
	}, 10*time.Second, 20*time.Millisecond, "second run starts from a clean aggregate")
	doJSON(t, router, "POST", "/api/v1/simulator/stop", nil)
}

func TestRate_Validation(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, "PUT", "/api/v1/simulator/rate", map[string]float64{"rate": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "PUT", "/api/v1/simulator/rate", map[string]float64{"rate": 25})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClaim_NotFound(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, "GET", "/api/v1/claims/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemInfo(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, "GET", "/api/v1/system/info", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "system")
}

// Command replay runs a claim file through the pipeline once and prints the
// final billing and aging reports. Useful for tuning payer configurations
// without standing up the API server.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/ingest"
	"github.com/medflow/claimsim/internal/simulator"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to the simulator config")
	file := flag.String("file", "", "JSONL claim file to replay (required)")
	rate := flag.Float64("rate", 0, "override the configured ingestion rate (claims/s)")
	jsonOut := flag.Bool("json", false, "print the final stats as JSON")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *cfgPath, err)
	}
	if *rate > 0 {
		cfg.Ingestion.RateLimit = *rate
	}

	claims, stats, err := ingest.NewParser().ParseFile(*file)
	if err != nil {
		log.Fatalf("Failed to parse %s: %v", *file, err)
	}
	log.Printf("📄 Parsed %s: %d accepted, %d rejected, %d warnings",
		*file, stats.Accepted, stats.Rejected, stats.Warnings)
	if len(claims) == 0 {
		log.Fatal("No valid claims to replay")
	}

	sim, err := simulator.New(cfg, simulator.Options{})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	start := time.Now()
	if err := sim.Start(ingest.NewSliceSource(claims)); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	// Wait for ingestion to finish, then Stop drains the queues.
	for sim.Status().Ingestion.Running {
		time.Sleep(100 * time.Millisecond)
	}
	sim.Stop()
	elapsed := time.Since(start)

	final := sim.Stats()
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			log.Fatalf("Failed to encode stats: %v", err)
		}
		return
	}

	log.Printf("✅ Replay finished in %s", elapsed.Round(time.Millisecond))
	log.Printf("📊 %d claims: %d approved, %d partial, %d denied (%d duplicates dropped)",
		final.Billing.TotalClaims, final.Billing.Approved,
		final.Billing.PartialDenials, final.Billing.Denied, final.Billing.Duplicates)
	log.Printf("💰 Billed $%.2f, paid $%.2f, patient share $%.2f, denied $%.2f",
		final.Billing.TotalBilled, final.Billing.TotalPaid,
		final.Billing.TotalPatientShare, final.Billing.TotalDenied)
	for _, pt := range final.Billing.Payers {
		log.Printf("   %s (%s): %d claims, billed $%.2f, paid $%.2f",
			pt.PayerID, pt.PayerName, pt.Claims, pt.TotalBilled, pt.TotalPaid)
	}
	for _, rep := range final.Aging {
		log.Printf("⏱  %s aging: [%d %d %d %d] avg %.1fm oldest %.1fm",
			rep.PayerID, rep.Buckets[0], rep.Buckets[1], rep.Buckets[2], rep.Buckets[3],
			rep.AverageAgeMins, rep.OldestAgeMins)
	}
}

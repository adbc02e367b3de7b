package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smartmed/interaction-engine/internal/checking"
	"github.com/smartmed/interaction-engine/internal/config"
	"github.com/smartmed/interaction-engine/internal/knowledge"
	"github.com/smartmed/interaction-engine/internal/models"
)

// checktool exercises the interaction pipeline from the command line:
//
//	checktool                          run the built-in scenarios
//	checktool warfarin "vitamin k"     check one medication/supplement pair
func main() {
	fmt.Println("💊 Interaction Engine - Check Tool")
	fmt.Println("==================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		log.Fatalf("Failed to build knowledge sources: %v", err)
	}
	checker := checking.NewService(resolver, cfg.MaxConcurrentLookups)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scenarios := builtinScenarios()
	if len(os.Args) == 3 {
		scenarios = []scenario{{medication: os.Args[1], supplement: os.Args[2]}}
	}

	fmt.Println("\n🔎 Checking pairs...")
	fmt.Println(strings.Repeat("-", 40))

	for _, sc := range scenarios {
		runScenario(ctx, checker, sc)
	}

	fmt.Println("\n✅ Check completed!")
}

type scenario struct {
	medication string
	supplement string
}

func builtinScenarios() []scenario {
	return []scenario{
		{medication: "Warfarin", supplement: "Vitamin K"},
		{medication: "Warfarin", supplement: "Ginkgo Biloba"},
		{medication: "Sertraline", supplement: "St John's Wort"},
		{medication: "Levothyroxine", supplement: "Calcium"},
		{medication: "Lisinopril", supplement: "Potassium"},
		{medication: "Metformin", supplement: "Vitamin C"},
	}
}

func runScenario(ctx context.Context, checker *checking.Service, sc scenario) {
	fmt.Printf("🔸 %s + %s... ", sc.medication, sc.supplement)

	medications := []models.Substance{{
		ID: "med-1", Kind: models.KindMedication, Name: sc.medication, IsActive: true,
	}}
	supplements := []models.Substance{{
		ID: "sup-1", Kind: models.KindSupplement, Name: sc.supplement, IsActive: true,
	}}

	result, err := checker.RunCheck(ctx, medications, supplements)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}

	if len(result.Findings) == 0 {
		if result.Complete {
			fmt.Println("✓ no known interaction")
		} else {
			fmt.Println("⚠️  no result (lookup unavailable)")
		}
		return
	}

	finding := result.Findings[0]
	fmt.Printf("⚠️  %s severity\n", strings.ToUpper(string(finding.SeverityLevel)))
	fmt.Printf("   %s\n", finding.Description)
	if finding.Recommendation != "" {
		fmt.Printf("   recommendation: %s\n", finding.Recommendation)
	}
}

func buildResolver(cfg *config.Config) (*knowledge.Resolver, error) {
	var sources []knowledge.Source
	if cfg.EnableRxNav {
		sources = append(sources, knowledge.NewRxNavSource(cfg.RxNavBaseURL, cfg.RxNavTimeout))
	}
	static, err := knowledge.NewStaticSource(cfg.ReferenceDataPath)
	if err != nil {
		return nil, err
	}
	sources = append(sources, static)
	return knowledge.NewResolver(sources, cfg.LookupRetries, cfg.LookupBackoff), nil
}

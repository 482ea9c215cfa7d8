// Command example demonstrates the engram Go client.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	engram "github.com/engram-labs/engram/sdk/go"
)

func main() {
	client := engram.NewClient(engram.ClientConfig{
		BaseURL: "http://localhost:8080",
		Token:   os.Getenv("ENGRAM_TOKEN"),
	})

	ctx := context.Background()

	stored, err := client.Remember(ctx, &engram.RememberRequest{
		Content: "The importer retries failed batches with exponential backoff",
		Type:    engram.TypeDecision,
		Tags:    []string{"importer", "reliability"},
		Project: "data-pipeline",
	})
	if err != nil {
		log.Fatalf("remember failed: %v", err)
	}
	if stored.Duplicate {
		fmt.Printf("already known as %s\n", stored.ID)
	} else {
		fmt.Printf("stored %s\n", stored.ID)
	}

	memories, err := client.Recall(ctx, &engram.RecallRequest{
		Query: "how does the importer handle failures",
		Limit: 5,
		Filters: &engram.RecallFilters{
			Project: "data-pipeline",
		},
	})
	if err != nil {
		log.Fatalf("recall failed: %v", err)
	}
	for _, m := range memories {
		fmt.Printf("  %.2f  [%s] %s\n", m.WeightedScore, m.Type, m.Content)
		if m.Invalidated && m.ReplacedBy != "" {
			fmt.Printf("        superseded by %s\n", m.ReplacedBy)
		}
	}

	entries, err := client.Context(ctx, &engram.ContextRequest{
		Task:  "add a dead-letter queue to the importer",
		Depth: "medium",
	})
	if err != nil {
		log.Fatalf("context failed: %v", err)
	}
	fmt.Printf("%d context entries\n", len(entries))
}

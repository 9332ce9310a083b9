package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"eligo/app/core/store"
)

func main() {
	dataDir := flag.String("data-dir", "output/db", "directory holding the eligo sqlite database")
	limit := flag.Int("limit", 20, "maximum number of audit records to list")
	flag.Parse()

	db, err := store.Open(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run audit failed: %v\n", err)
		os.Exit(2)
	}
	defer db.Close()

	records, err := store.NewAuditStore(db).List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run audit failed: %v\n", err)
		os.Exit(2)
	}

	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "run audit failed: marshal records: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(payload))
}

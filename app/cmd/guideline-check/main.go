package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"eligo/app/core/facts"
	"eligo/app/core/guideline"
	"eligo/app/pkg/types"
)

func main() {
	factsPath := flag.String("facts", "", "path to a subject facts/clinical record json file")
	guidelinesPath := flag.String("guidelines", "", "optional path to a guidelines json file (built-in default otherwise)")
	dateArg := flag.String("date", "", "evaluation date as YYYY-MM-DD (default today)")
	flag.Parse()

	if *factsPath == "" {
		fmt.Fprintln(os.Stderr, "guideline check failed: -facts is required")
		os.Exit(2)
	}

	doc, err := os.ReadFile(*factsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guideline check failed: read facts: %v\n", err)
		os.Exit(2)
	}
	subject, err := facts.MapClinicalDocument(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guideline check failed: %v\n", err)
		os.Exit(2)
	}

	g := types.DefaultGuidelines()
	if *guidelinesPath != "" {
		payload, err := os.ReadFile(*guidelinesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "guideline check failed: read guidelines: %v\n", err)
			os.Exit(2)
		}
		if err := json.Unmarshal(payload, &g); err != nil {
			fmt.Fprintf(os.Stderr, "guideline check failed: decode guidelines: %v\n", err)
			os.Exit(2)
		}
		if err := guideline.Validate(g); err != nil {
			fmt.Fprintf(os.Stderr, "guideline check failed: %v\n", err)
			os.Exit(1)
		}
	}

	evalDate := time.Now().UTC()
	if *dateArg != "" {
		evalDate, err = time.Parse(guideline.DateLayout, *dateArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "guideline check failed: parse date %q: %v\n", *dateArg, err)
			os.Exit(2)
		}
	}

	result := guideline.Evaluate(subject, g, evalDate)
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "guideline check failed: marshal result: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(payload))

	if result.Decision != types.DecisionEligible {
		os.Exit(1)
	}
}

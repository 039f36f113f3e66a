package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/aluiziolira/go-scrape-shops/models"
)

const maxSummaryErrors = 5

func printSummary(w io.Writer, result *models.ScrapeResult) {
	separator := "=================================================="
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "SCRAPING SUMMARY")
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "  Source:        %s\n", result.Source)
	fmt.Fprintf(w, "  URL:           %s\n", result.URL)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PagesVisited)
	fmt.Fprintf(w, "  Total scraped: %d\n", result.TotalScraped())
	fmt.Fprintf(w, "  Successful:    %d\n", result.Successful)
	fmt.Fprintf(w, "  Failed:        %d\n", result.Failed)
	if result.Duplicates > 0 {
		fmt.Fprintf(w, "  Duplicates:    %d\n", result.Duplicates)
	}
	if result.Retries > 0 {
		fmt.Fprintf(w, "  Retries:       %d\n", result.Retries)
	}
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", result.SuccessRate())
	fmt.Fprintf(w, "  Duration:      %.2fs\n", result.Duration.Seconds())

	if len(result.ErrorsByType) > 0 {
		kinds := make([]string, 0, len(result.ErrorsByType))
		for k := range result.ErrorsByType {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintln(w, "  Error types:")
		for _, k := range kinds {
			fmt.Fprintf(w, "    %-14s %d\n", k+":", result.ErrorsByType[k])
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\n  Errors (%d):\n", len(result.Errors))
		for i, msg := range result.Errors {
			if i == maxSummaryErrors {
				fmt.Fprintf(w, "    ... and %d more\n", len(result.Errors)-maxSummaryErrors)
				break
			}
			fmt.Fprintf(w, "    - %s\n", msg)
		}
	}
	fmt.Fprintln(w, separator)
}

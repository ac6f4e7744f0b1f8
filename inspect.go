package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-extract/container"
	"github.com/dhcgn/mail-extract/decoder"
	"github.com/dhcgn/mail-extract/filter"
	"github.com/dhcgn/mail-extract/stats"
)

// inspect gives a quick triage view of an artifact before committing to a
// full extraction: message counts, top header values and how many messages
// carry attachments.
func newInspectCmd() *cobra.Command {
	var (
		reportDir     string
		topN          int
		includeHeader []string
		includeBody   []string
		excludeHeader []string
		excludeBody   []string
	)

	cmd := &cobra.Command{
		Use:   "inspect [artifact]",
		Short: "Analyse an eml or mbox artifact and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifactPath := args[0]

			kind, err := container.Detect(artifactPath)
			if err != nil {
				return err
			}
			fmt.Printf("Analyzing %s artifact: %s\n", kind, artifactPath)

			f, err := filter.New(filter.Options{
				IncludeHeader: includeHeader,
				IncludeBody:   includeBody,
				ExcludeHeader: excludeHeader,
				ExcludeBody:   excludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			headersToTrack := []string{"From", "To", "Subject", "Delivered-To"}
			counter := make(map[string]map[string]int)
			for _, h := range headersToTrack {
				counter[h] = make(map[string]int)
			}

			messageCount := 0
			skippedCount := 0
			withAttachments := 0

			err = container.Read(artifactPath, func(ordinal int, raw []byte) error {
				if !f.Allows(raw) {
					skippedCount++
					return nil
				}
				messageCount++

				parsed, err := mail.ReadMessage(bytes.NewReader(raw))
				if err != nil {
					return nil
				}

				for _, headerName := range headersToTrack {
					if value := parsed.Header.Get(headerName); value != "" {
						counter[headerName][decoder.DecodeHeaderValue(value)]++
					}
				}
				if hasAttachmentHint(raw) {
					withAttachments++
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}

			fmt.Printf("\nMessages: %d (skipped %d by filters)\n", messageCount, skippedCount)
			fmt.Printf("Messages with attachment hints: %d\n\n", withAttachments)

			for _, header := range headersToTrack {
				fmt.Printf("Top %d %s:\n", topN, header)
				stats.PrettyPrintTop(counter[header], topN)
				fmt.Println()
			}

			if reportDir != "" {
				if err := saveCSVReports(counter, headersToTrack, reportDir, 1000); err != nil {
					return fmt.Errorf("save CSV reports: %w", err)
				}
				fmt.Printf("Reports saved to directory: %s\n", reportDir)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", "", "Output directory for CSV reports (omit to skip reports)")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().StringArrayVar(&includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	cmd.Flags().StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	cmd.Flags().StringArrayVar(&excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	cmd.Flags().StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	return cmd
}

// hasAttachmentHint is a cheap raw-bytes probe; the real classification
// happens in the extraction run.
func hasAttachmentHint(raw []byte) bool {
	return bytes.Contains(raw, []byte("Content-Disposition: attachment")) ||
		bytes.Contains(raw, []byte("filename="))
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		counts := counter[header]

		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(header))
		filePath := filepath.Join(dir, filename)

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		csvWriter := csv.NewWriter(file)

		if err := csvWriter.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].Value > pairs[j].Value
		})

		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{
				pairs[i].Key,
				strconv.Itoa(pairs[i].Value),
			}
			if err := csvWriter.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		csvWriter.Flush()
		file.Close()

		if err := csvWriter.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/araddon/dateparse"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"typingproof/internal/typingproof/engine"
	"typingproof/internal/typingproof/event"
	"typingproof/internal/typingproof/stats"
)

var (
	statsFlagInput string
	statsFlagSince string
	statsFlagJSON  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print StatisticsCalculator metrics for a session state or exported proof",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsFlagInput == "" {
			return fmt.Errorf("--input is required")
		}

		fs := afero.NewOsFs()
		raw, err := afero.ReadFile(fs, statsFlagInput)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		events, exportedAt, err := loadEventsAndTimestamp(raw)
		if err != nil {
			return err
		}

		if statsFlagSince != "" && exportedAt != "" {
			since, err := dateparse.ParseAny(statsFlagSince)
			if err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}
			exportedTime, err := dateparse.ParseAny(exportedAt)
			if err != nil {
				return fmt.Errorf("parse proof metadata timestamp: %w", err)
			}
			if exportedTime.Before(since) {
				fmt.Println("proof predates --since; skipping")
				return nil
			}
		}

		s := stats.Calculate(events)
		if statsFlagJSON {
			b, err := json.MarshalIndent(s.SummaryMap(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal summary: %w", err)
			}
			fmt.Println(string(b))
			return nil
		}
		s.PrintSummary(os.Stdout)
		return nil
	},
}

// loadEventsAndTimestamp accepts either a session state (engine.SessionStateV1)
// or a full exported proof, returning the event slice and, for an exported
// proof, its metadata.timestamp (empty for a bare session state).
func loadEventsAndTimestamp(raw []byte) ([]*event.Event, string, error) {
	var proof engine.ExportedProof
	if err := json.Unmarshal(raw, &proof); err == nil && len(proof.Proof.Events) > 0 {
		return proof.Proof.Events, proof.Metadata.Timestamp, nil
	}

	var state engine.SessionStateV1
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, "", fmt.Errorf("decode input as session state or exported proof: %w", err)
	}
	return state.Events, "", nil
}

func init() {
	statsCmd.Flags().StringVar(&statsFlagInput, "input", "", "session state or exported proof JSON file (required)")
	statsCmd.Flags().StringVar(&statsFlagSince, "since", "", "skip exported proofs whose metadata timestamp predates this (flexible format)")
	statsCmd.Flags().BoolVar(&statsFlagJSON, "json", false, "print the machine-readable summary map instead of the formatted report")
}

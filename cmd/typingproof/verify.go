package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"typingproof/internal/typingproof/engine"
	"typingproof/internal/typingproof/verifier"
)

var (
	verifyFlagInput    string
	verifyFlagSampled  bool
	verifyFlagSamples  int
	verifyFlagDetailed bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a recorded session state's hash chain (full or sampled)",
	Long: `verify loads a session state JSON (as produced by "typingproof record")
and checks that its hash chain is internally consistent: sequence numbers,
monotonic timestamps, previous-hash linkage, per-event PoSW, and the
running SHA-256 chain hash.

With --sampled, only a handful of checkpoint-bounded segments are
replayed instead of the full log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyFlagInput == "" {
			return fmt.Errorf("--input is required")
		}

		fs := afero.NewOsFs()
		raw, err := afero.ReadFile(fs, verifyFlagInput)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		var state engine.SessionStateV1
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("decode session state: %w", err)
		}
		if len(state.Events) == 0 {
			fmt.Println("no events to verify")
			return nil
		}

		initialHash := state.Events[0].PreviousHash

		if verifyFlagSampled {
			n := verifyFlagSamples
			if n <= 0 {
				n = 3
			}
			res := verifier.VerifySampled(initialHash, state.Events, state.Checkpoints, n, nil, nil)
			printSampledResult(res)
			if !res.Valid {
				os.Exit(1)
			}
			return nil
		}

		res := verifier.VerifyFull(initialHash, state.Events, nil)
		printFullResult(res, verifyFlagDetailed)
		if !res.Valid {
			os.Exit(1)
		}
		return nil
	},
}

func printFullResult(res verifier.Result, detailed bool) {
	if res.Valid {
		fmt.Println("status: VALID")
		return
	}
	fmt.Println("status: INVALID")
	if res.Failure != nil {
		fmt.Printf("kind:   %s\n", res.Failure.Kind)
		fmt.Printf("at:     %d\n", res.Failure.ErrorAt)
		if detailed && res.Failure.Event != nil {
			b, _ := json.MarshalIndent(res.Failure.Event, "", "  ")
			fmt.Println(string(b))
		}
	}
}

func printSampledResult(res verifier.SampledResult) {
	if res.Valid {
		fmt.Println("status: VALID (sampled)")
	} else {
		fmt.Println("status: INVALID (sampled)")
	}
	fmt.Printf("segments chosen: %v\n", res.SegmentIndices)
	fmt.Printf("events verified: %d\n", res.EventsVerified)
	for _, f := range res.Failures {
		fmt.Printf("  failure: %s at %d\n", f.Kind, f.ErrorAt)
	}
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlagInput, "input", "", "session state JSON file (required)")
	verifyCmd.Flags().BoolVar(&verifyFlagSampled, "sampled", false, "run sampled verification instead of full")
	verifyCmd.Flags().IntVar(&verifyFlagSamples, "samples", 3, "number of segments to sample (sampled mode)")
	verifyCmd.Flags().BoolVar(&verifyFlagDetailed, "detailed", false, "print the offending event on failure")
}

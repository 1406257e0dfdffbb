package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"typingproof/internal/typingproof/config"
	"typingproof/internal/typingproof/engine"
	"typingproof/internal/typingproof/event"
	"typingproof/internal/typingproof/logger"
	"typingproof/internal/typingproof/posw"
)

var (
	recordFlagInput    string
	recordFlagOutput   string
	recordFlagDeviceID string
)

// recordLine is the wire shape of one NDJSON line of input: a single
// editor event destined for RecordEvent.
type recordLine struct {
	Type        event.Type        `json:"type"`
	InputType   event.InputType   `json:"inputType,omitempty"`
	Data        any               `json:"data"`
	RangeOffset *int              `json:"rangeOffset,omitempty"`
	RangeLength *int              `json:"rangeLength,omitempty"`
	Range       *event.Range      `json:"range,omitempty"`
	Timestamp   *float64          `json:"timestamp,omitempty"`
	TabID       string            `json:"tabId,omitempty"`

	InsertedText string `json:"insertedText,omitempty"`
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Feed NDJSON editor events through the engine and write the resulting session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if recordFlagDeviceID == "" {
			return fmt.Errorf("--device is required")
		}

		fs := afero.NewOsFs()
		var in io.Reader = os.Stdin
		if recordFlagInput != "" {
			f, err := fs.Open(recordFlagInput)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			in = f
		}

		cfg := config.Get()
		var poswMgr *posw.Manager
		if cfg.Worker.Enabled {
			poswMgr = posw.NewWorkerManager(posw.Iterations, cfg.Worker.PoolSize)
		} else {
			poswMgr = posw.NewInlineManager(posw.Iterations)
		}
		defer poswMgr.Close()

		tp := engine.New(poswMgr, logger.L())
		if err := tp.Initialize(recordFlagDeviceID, nil, nil); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		defer tp.Close()

		ctx := context.Background()
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		count := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rl recordLine
			if err := json.Unmarshal(line, &rl); err != nil {
				return fmt.Errorf("decode event line %d: %w", count+1, err)
			}
			input := event.RecordEventInput{
				Type:         rl.Type,
				InputType:    rl.InputType,
				Data:         rl.Data,
				RangeOffset:  rl.RangeOffset,
				RangeLength:  rl.RangeLength,
				Range:        rl.Range,
				Timestamp:    rl.Timestamp,
				InsertedText: rl.InsertedText,
			}
			var err error
			if rl.Type == event.TypeHumanAttestation {
				_, err = tp.RecordHumanAttestation(ctx, rl.Data)
			} else {
				_, err = tp.RecordEvent(ctx, input, rl.TabID)
			}
			if err != nil {
				return fmt.Errorf("record event line %d: %w", count+1, err)
			}
			count++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		state := tp.SerializeState()
		out, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal session state: %w", err)
		}

		if recordFlagOutput == "" {
			_, err = os.Stdout.Write(append(out, '\n'))
			return err
		}
		return afero.WriteFile(fs, recordFlagOutput, append(out, '\n'), 0644)
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordFlagInput, "input", "", "NDJSON input file of events (default stdin)")
	recordCmd.Flags().StringVar(&recordFlagOutput, "output", "", "session state output file (default stdout)")
	recordCmd.Flags().StringVar(&recordFlagDeviceID, "device", "", "64-hex device identifier (required)")
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"typingproof/internal/typingproof/engine"
	"typingproof/internal/typingproof/logger"
	"typingproof/internal/typingproof/posw"
)

var (
	exportFlagInput       string
	exportFlagOutput      string
	exportFlagContentFile string
	exportFlagContent     string
	exportFlagDevice      string
	exportFlagUserAgent   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a final, bit-exact typing proof from a recorded session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFlagInput == "" {
			return fmt.Errorf("--input is required")
		}
		if exportFlagDevice == "" {
			return fmt.Errorf("--device is required (session state does not carry device identity)")
		}

		fs := afero.NewOsFs()
		raw, err := afero.ReadFile(fs, exportFlagInput)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		var state engine.SessionStateV1
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("decode session state: %w", err)
		}

		finalContent := exportFlagContent
		if exportFlagContentFile != "" {
			b, err := afero.ReadFile(fs, exportFlagContentFile)
			if err != nil {
				return fmt.Errorf("read content file: %w", err)
			}
			finalContent = string(b)
		}

		tp := engine.New(posw.NewInlineManager(posw.Iterations), logger.L())
		if err := tp.RestoreState(state); err != nil {
			return fmt.Errorf("restore session state: %w", err)
		}
		defer tp.Close()
		tp.SetDevice(exportFlagDevice, nil)

		proof, err := tp.ExportProof(finalContent, exportFlagUserAgent)
		if err != nil {
			return fmt.Errorf("export proof: %w", err)
		}

		out, err := json.MarshalIndent(proof, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal proof: %w", err)
		}

		if exportFlagOutput == "" {
			_, err = os.Stdout.Write(append(out, '\n'))
			return err
		}
		return afero.WriteFile(fs, exportFlagOutput, append(out, '\n'), 0644)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFlagInput, "input", "", "session state JSON file (required)")
	exportCmd.Flags().StringVar(&exportFlagOutput, "output", "", "exported proof output file (default stdout)")
	exportCmd.Flags().StringVar(&exportFlagContentFile, "content-file", "", "file holding the final text content")
	exportCmd.Flags().StringVar(&exportFlagContent, "content", "", "final text content, inline")
	exportCmd.Flags().StringVar(&exportFlagDevice, "device", "", "64-hex device identifier (required)")
	exportCmd.Flags().StringVar(&exportFlagUserAgent, "user-agent", "", "user agent string to embed in metadata")
}

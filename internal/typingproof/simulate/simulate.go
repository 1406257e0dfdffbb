// Package simulate generates a synthetic typing session against a running
// engine.TypingProof, so verify/export/stats tooling has a realistic event
// stream to run over without a real editor. Grounded on the teacher's
// internal/loadr synthetic-data generator: a YAML config, a seeded
// gofakeit generator, and a single entry point driven by a config path.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"gopkg.in/yaml.v3"

	"typingproof/internal/typingproof/engine"
	"typingproof/internal/typingproof/event"
	"typingproof/internal/typingproof/posw"
)

// Config configures one simulated session.
type Config struct {
	Seed        int64   `yaml:"seed"`
	DeviceID    string  `yaml:"deviceId"`
	Events      int     `yaml:"events"`
	PasteChance float64 `yaml:"pasteChance"`
	Output      string  `yaml:"output"`
}

func readConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Run reads the YAML config at configPath, generates a synthetic typing
// session, and writes the resulting engine.SessionStateV1 to cfg.Output.
func Run(configPath string) error {
	cfg, err := readConfig(configPath)
	if err != nil {
		return fmt.Errorf("load simulate config: %w", err)
	}
	if cfg.Events <= 0 {
		cfg.Events = 200
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = strings.Repeat("ab", 32)
	}

	gofakeit.Seed(cfg.Seed)

	poswMgr := posw.NewInlineManager(posw.Iterations)
	defer poswMgr.Close()

	tp := engine.New(poswMgr, nil)
	if err := tp.Initialize(cfg.DeviceID, map[string]any{"simulated": true}, nil); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer tp.Close()

	ctx := context.Background()
	if _, err := tp.RecordHumanAttestation(ctx, map[string]any{"method": "simulated", "score": 0.99}); err != nil {
		return fmt.Errorf("record human attestation: %w", err)
	}

	source := gofakeit.Paragraph(3, 5, 12, " ")
	cursor := 0
	for i := 0; i < cfg.Events; i++ {
		input, err := nextInput(source, &cursor, cfg.PasteChance)
		if err != nil {
			return fmt.Errorf("generate event %d: %w", i, err)
		}
		if _, err := tp.RecordEvent(ctx, input, "tab-1"); err != nil {
			return fmt.Errorf("record event %d: %w", i, err)
		}
	}

	state := tp.SerializeState()
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if cfg.Output == "" {
		cfg.Output = "simulated-session.json"
	}
	return os.WriteFile(cfg.Output, out, 0644)
}

// nextInput produces one synthetic contentChange event: most of the time
// a single typed character, occasionally (per pasteChance) a pasted burst
// of a fake sentence.
func nextInput(source string, cursor *int, pasteChance float64) (event.RecordEventInput, error) {
	if pasteChance > 0 && gofakeit.Float64Range(0, 1) < pasteChance {
		text := gofakeit.Sentence(8)
		n := len(text)
		return event.RecordEventInput{
			Type:         event.TypeContentChange,
			InputType:    event.InputTypeInsertFromPaste,
			Data:         text,
			InsertedText: text,
			InsertLength: &n,
		}, nil
	}

	var ch string
	if *cursor < len(source) {
		ch = string(source[*cursor])
		*cursor++
	} else {
		ch = gofakeit.Letter()
	}
	n := len(ch)
	return event.RecordEventInput{
		Type:         event.TypeContentChange,
		InputType:    event.InputTypeInsertText,
		Data:         ch,
		InsertedText: ch,
		InsertLength: &n,
	}, nil
}

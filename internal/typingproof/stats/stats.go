// Package stats implements StatisticsCalculator: derived counts, durations
// and typing metrics over a committed event log. Grounded on the teacher's
// query/stats.go aggregation pattern (incremental counters, breakdown
// maps, sorted printable summary).
package stats

import (
	"fmt"
	"io"
	"sort"

	"typingproof/internal/typingproof/event"
)

// Stats holds every derived metric over one committed log.
type Stats struct {
	TotalEvents    int
	DurationMs     float64
	ByType         map[string]int
	ByInputType    map[string]int
	PasteEvents    int
	DropEvents     int
	InsertEvents   int // total inserted characters, not event count
	DeleteEvents   int // total deleted characters, not event count
	AverageWPM     float64
	IsPureTyping   bool
}

// Calculate derives Stats from a committed log. It is a pure function of
// the log; it holds no state of its own.
func Calculate(events []*event.Event) *Stats {
	s := &Stats{
		ByType:       make(map[string]int),
		ByInputType:  make(map[string]int),
		IsPureTyping: true,
	}
	s.TotalEvents = len(events)
	if len(events) == 0 {
		return s
	}

	var insertedChars, deletedChars int

	for _, ev := range events {
		s.ByType[string(ev.Type)]++
		if ev.InputType != "" {
			s.ByInputType[string(ev.InputType)]++
		}

		if ev.Type == event.TypeTemplateInjection {
			continue
		}

		switch ev.InputType {
		case event.InputTypeInsertFromPaste:
			s.PasteEvents++
		case event.InputTypeInsertFromDrop:
			s.DropEvents++
		}

		insertedChars += insertedCharCount(ev)
		if ev.DeletedLength != nil {
			deletedChars += *ev.DeletedLength
		}
	}

	s.InsertEvents = insertedChars
	s.DeleteEvents = deletedChars
	s.DurationMs = events[len(events)-1].Timestamp
	s.IsPureTyping = s.PasteEvents == 0 && s.DropEvents == 0
	s.AverageWPM = averageWPM(insertedChars, s.DurationMs)

	return s
}

func insertedCharCount(ev *event.Event) int {
	if ev.InsertedText != "" {
		return len([]rune(ev.InsertedText))
	}
	if ev.Type != event.TypeContentChange {
		return 0
	}
	switch ev.InputType {
	case event.InputTypeInsertText, event.InputTypeInsertLineBreak,
		event.InputTypeInsertFromPaste, event.InputTypeInsertFromDrop,
		event.InputTypeInsertFromYank, event.InputTypeInsertReplacementText,
		event.InputTypeCompositionEnd:
		if text, ok := ev.Data.(string); ok {
			return len([]rune(text))
		}
	}
	return 0
}

// averageWPM is the standard five-characters-per-word convention applied
// over insertedChars and durationMs.
func averageWPM(insertedChars int, durationMs float64) float64 {
	if durationMs <= 0 {
		return 0
	}
	minutes := durationMs / 60000.0
	words := float64(insertedChars) / 5.0
	return words / minutes
}

// PrintSummary writes a formatted human-readable report, in the style of
// the teacher's query.Stats.PrintSummary.
func (s *Stats) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "Total events:      %d\n", s.TotalEvents)
	fmt.Fprintf(w, "Duration:          %.0f ms\n", s.DurationMs)
	fmt.Fprintf(w, "Inserted chars:    %d\n", s.InsertEvents)
	fmt.Fprintf(w, "Deleted chars:     %d\n", s.DeleteEvents)
	fmt.Fprintf(w, "Paste events:      %d\n", s.PasteEvents)
	fmt.Fprintf(w, "Drop events:       %d\n", s.DropEvents)
	fmt.Fprintf(w, "Average WPM:       %.1f\n", s.AverageWPM)
	fmt.Fprintf(w, "Pure typing:       %t\n", s.IsPureTyping)
	fmt.Fprintln(w, "By type:")
	printSortedMap(w, s.ByType, "  ")
	fmt.Fprintln(w, "By input type:")
	printSortedMap(w, s.ByInputType, "  ")
}

func printSortedMap(w io.Writer, m map[string]int, indent string) {
	type kv struct {
		k string
		v int
	}
	items := make([]kv, 0, len(m))
	for k, v := range m {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v != items[j].v {
			return items[i].v > items[j].v
		}
		return items[i].k < items[j].k
	})
	for _, it := range items {
		fmt.Fprintf(w, "%s%s: %d\n", indent, it.k, it.v)
	}
}

// SummaryMap projects Stats into the JSON metadata block used by the
// exported-proof format's typingProofData.metadata (spec.md §6).
func (s *Stats) SummaryMap() map[string]any {
	return map[string]any{
		"totalEvents":        s.TotalEvents,
		"pasteEvents":        s.PasteEvents,
		"dropEvents":         s.DropEvents,
		"insertEvents":       s.InsertEvents,
		"deleteEvents":       s.DeleteEvents,
		"totalTypingTime":    s.DurationMs,
		"averageTypingSpeed": s.AverageWPM,
	}
}

// Package event defines the tagged event model that makes up a typing-proof
// log: the atomic, immutable records that HashChainManager hashes and
// ChainVerifier replays.
package event

// Type is the closed set of event kinds a log may contain.
type Type string

const (
	TypeContentChange         Type = "contentChange"
	TypeContentSnapshot       Type = "contentSnapshot"
	TypeCursorPositionChange  Type = "cursorPositionChange"
	TypeSelectionChange       Type = "selectionChange"
	TypeExternalInput         Type = "externalInput"
	TypeHumanAttestation      Type = "humanAttestation"
	TypePreExportAttestation  Type = "preExportAttestation"
	TypeTemplateInjection     Type = "templateInjection"
	TypeMousePositionChange   Type = "mousePositionChange"
	TypeVisibilityChange      Type = "visibilityChange"
	TypeFocusChange           Type = "focusChange"
	TypeKeyDown               Type = "keyDown"
	TypeKeyUp                 Type = "keyUp"
	TypeEditorInitialized     Type = "editorInitialized"
)

// InputType further partitions contentChange events. It is informational
// only and never rejects an event.
type InputType string

const (
	InputTypeInsertText            InputType = "insertText"
	InputTypeInsertLineBreak       InputType = "insertLineBreak"
	InputTypeDeleteContentBackward InputType = "deleteContentBackward"
	InputTypeDeleteContentForward  InputType = "deleteContentForward"
	InputTypeDeleteByCut           InputType = "deleteByCut"
	InputTypeDeleteWordBackward    InputType = "deleteWordBackward"
	InputTypeDeleteWordForward     InputType = "deleteWordForward"
	InputTypeHistoryUndo           InputType = "historyUndo"
	InputTypeHistoryRedo           InputType = "historyRedo"
	InputTypeCompositionStart      InputType = "compositionStart"
	InputTypeCompositionUpdate     InputType = "compositionUpdate"
	InputTypeCompositionEnd        InputType = "compositionEnd"

	// Prohibited/external — informational tags for non-typed content.
	InputTypeInsertFromPaste       InputType = "insertFromPaste"
	InputTypeInsertFromDrop        InputType = "insertFromDrop"
	InputTypeInsertFromYank        InputType = "insertFromYank"
	InputTypeInsertReplacementText InputType = "insertReplacementText"
)

// Range locates a span within the text model using 1-based line/column
// coordinates, matching typical editor selection semantics.
type Range struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// PoSW is the Proof of Sequential Work attached to an event (spec.md §4.2).
type PoSW struct {
	Iterations       int    `json:"iterations"`
	Nonce            string `json:"nonce"`
	IntermediateHash string `json:"intermediateHash"`
	ComputeTimeMs    int64  `json:"computeTimeMs,omitempty"`
}

// Event is an atomic, immutable record of something that happened at a known
// moment inside the tracked editor session.
//
// Fields are grouped into the hashed subset (sequence through posw, in the
// order HashedSubset below reproduces) and the inspection-only metadata
// fields, which MUST NOT enter any hash preimage.
type Event struct {
	Sequence     uint64    `json:"sequence"`
	Timestamp    float64   `json:"timestamp"`
	Type         Type      `json:"type"`
	InputType    InputType `json:"inputType,omitempty"`
	Data         any       `json:"data"`
	RangeOffset  *int      `json:"rangeOffset"`
	RangeLength  *int      `json:"rangeLength"`
	Range        *Range    `json:"range"`
	PreviousHash string    `json:"previousHash"`
	PoSW         *PoSW     `json:"posw"`
	Hash         string    `json:"hash"`

	// Inspection-only metadata. Never part of a hash preimage.
	Description     string `json:"description,omitempty"`
	IsMultiLine     *bool  `json:"isMultiLine,omitempty"`
	DeletedLength   *int   `json:"deletedLength,omitempty"`
	InsertedText    string `json:"insertedText,omitempty"`
	InsertLength    *int   `json:"insertLength,omitempty"`
	DeleteDirection string `json:"deleteDirection,omitempty"`
	SelectedText    string `json:"selectedText,omitempty"`
}

// HashedSubset returns the fields that enter the hash preimage, per
// spec.md §3 ("Hashed subset"). When withPoSW is false the posw field is
// omitted, producing the preimage PoSW computation itself is anchored to.
// Optional fields that are absent come back as explicit nils, which the
// canonical serializer renders as JSON null.
func (e *Event) HashedSubset(withPoSW bool) map[string]any {
	m := map[string]any{
		"sequence":     e.Sequence,
		"timestamp":    e.Timestamp,
		"type":         e.Type,
		"inputType":    nullableString(string(e.InputType)),
		"data":         e.Data,
		"rangeOffset":  nullableInt(e.RangeOffset),
		"rangeLength":  nullableInt(e.RangeLength),
		"range":        rangeValue(e.Range),
		"previousHash": e.PreviousHash,
	}
	if withPoSW {
		m["posw"] = poswValue(e.PoSW)
	}
	return m
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func rangeValue(r *Range) any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"startLine":   r.StartLine,
		"startColumn": r.StartColumn,
		"endLine":     r.EndLine,
		"endColumn":   r.EndColumn,
	}
}

func poswValue(p *PoSW) any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"iterations":       p.Iterations,
		"nonce":            p.Nonce,
		"intermediateHash": p.IntermediateHash,
	}
}

// RecordEventInput is what a caller supplies to TypingProof.RecordEvent; the
// engine fills in sequence, timestamp, previousHash, posw, and hash.
type RecordEventInput struct {
	Type        Type
	InputType   InputType
	Data        any
	RangeOffset *int
	RangeLength *int
	Range       *Range

	// Timestamp optionally overrides the engine's wall-clock elapsed-time
	// stamp. Production callers normally omit it; tests and replayed
	// scenarios set it explicitly (spec.md Scenario B).
	Timestamp *float64

	// Inspection-only metadata, carried through verbatim.
	Description     string
	IsMultiLine     *bool
	DeletedLength   *int
	InsertedText    string
	InsertLength    *int
	DeleteDirection string
	SelectedText    string
}

// IsPaste reports whether the input type marks externally-sourced content
// that did not arrive via direct keystrokes.
func (in RecordEventInput) IsPaste() bool {
	return in.InputType == InputTypeInsertFromPaste
}

// IsDrop reports whether the input type marks a drag-and-drop insertion.
func (in RecordEventInput) IsDrop() bool {
	return in.InputType == InputTypeInsertFromDrop
}

// PendingEvent is captured synchronously at record time, before PoSW and
// the chain hash are computed. It holds the full input plus the
// previousHash snapshot taken when it was enqueued, and lives outside the
// committed log until the matching commit removes it.
type PendingEvent struct {
	Input        RecordEventInput `json:"input"`
	Sequence     uint64           `json:"sequence"`
	Timestamp    float64          `json:"timestamp"`
	PreviousHash string           `json:"previousHash"`
	TabID        string           `json:"tabId,omitempty"`
}

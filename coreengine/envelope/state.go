package envelope

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PASSAGES
// =============================================================================

// PassageMetadata identifies where a passage came from.
type PassageMetadata struct {
	Source  string `json:"source"`
	DocID   string `json:"doc_id,omitempty"`
	ChunkID string `json:"chunk_id,omitempty"`
	Page    string `json:"page,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Passage is a retrieved unit of source text. Immutable once retrieved.
type Passage struct {
	Content  string          `json:"content"`
	Metadata PassageMetadata `json:"metadata"`
	Score    *float64        `json:"score,omitempty"`
}

// SourceName returns the passage source or "unknown_source".
func (p Passage) SourceName() string {
	if p.Metadata.Source == "" {
		return "unknown_source"
	}
	return p.Metadata.Source
}

// DocIDOrSource returns the document id, falling back to the source.
func (p Passage) DocIDOrSource() string {
	if p.Metadata.DocID == "" {
		return p.SourceName()
	}
	return p.Metadata.DocID
}

// ChunkIDOrDefault returns the chunk id or "unknown_chunk".
func (p Passage) ChunkIDOrDefault() string {
	if p.Metadata.ChunkID == "" {
		return "unknown_chunk"
	}
	return p.Metadata.ChunkID
}

// DisplayTitle returns the title, falling back to the source.
func (p Passage) DisplayTitle() string {
	if p.Metadata.Title != "" {
		return p.Metadata.Title
	}
	return p.SourceName()
}

// TraceRecord is the audit projection of one retrieved passage.
type TraceRecord struct {
	Rank    int      `json:"rank"`
	Score   *float64 `json:"score"`
	Source  string   `json:"source"`
	DocID   string   `json:"doc_id"`
	ChunkID string   `json:"chunk_id"`
	Page    string   `json:"page,omitempty"`
	Snippet string   `json:"snippet"`
}

// Claim is an atomic statement of a generated answer with its supporting passage ids.
// Passage ids are 1-based positions in ConversationState.Passages.
type Claim struct {
	Text       string `json:"claim"`
	PassageIDs []int  `json:"support_doc_ids"`
}

// =============================================================================
// VERDICTS AND AUDIT
// =============================================================================

// GroundingVerdict is the evaluator's judgement of the current answer.
type GroundingVerdict struct {
	IsGrounded         bool     `json:"is_grounded"`
	Reason             string   `json:"reason"`
	CitationCompliance bool     `json:"citation_compliance"`
	UnsupportedClaims  []string `json:"unsupported_claims,omitempty"`
}

// IterationRecord is one entry of the evaluator audit trail.
type IterationRecord struct {
	Iteration  int      `json:"iteration"`
	K          int      `json:"k"`
	IsGrounded bool     `json:"is_grounded"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason"`
}

// ProviderFailure records that a model provider could not serve a stage.
type ProviderFailure struct {
	Occurred bool          `json:"occurred"`
	Reason   FailureReason `json:"reason,omitempty"`
	Source   string        `json:"source,omitempty"`
}

// StageRecord tracks one stage execution.
type StageRecord struct {
	Stage      NodeID `json:"stage"`
	Status     string `json:"status"`
	DurationMS int    `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// =============================================================================
// CONVERSATION STATE
// =============================================================================

// ConversationState is the record threaded through every stage of a turn.
// Stages never mutate their input; they return a modified Clone.
type ConversationState struct {
	TurnID    string    `json:"turn_id"`
	CreatedAt time.Time `json:"created_at"`

	Question      string  `json:"question"`
	Intent        Intent  `json:"intent"`
	Profile       Profile `json:"profile"`
	MemoryUpdated bool    `json:"memory_updated"`

	K       int    `json:"k"`
	KSource string `json:"k_source,omitempty"`

	Passages       []Passage     `json:"passages"`
	RetrievalTrace []TraceRecord `json:"retrieval_trace"`

	Answer                 string   `json:"answer"`
	CitedSources           []string `json:"cited_sources"`
	Claims                 []Claim  `json:"claims,omitempty"`
	FinalPrompt            string   `json:"final_prompt,omitempty"`
	ClarificationRequested bool     `json:"clarification_requested,omitempty"`

	IterationCount int               `json:"iteration_count"`
	MaxIterations  int               `json:"max_iterations"`
	Verdict        GroundingVerdict  `json:"grounding_verdict"`
	Decision       Decision          `json:"decision"`
	History        []IterationRecord `json:"iteration_history"`

	ToolHandled bool           `json:"tool_handled"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolResult  map[string]any `json:"tool_result,omitempty"`

	ProviderFailure ProviderFailure `json:"provider_failure"`

	Stages         []StageRecord  `json:"stages,omitempty"`
	TerminalReason TerminalReason `json:"terminal_reason,omitempty"`
}

// NewConversationState creates a fresh state for one turn.
// maxIterations is clamped to [0, MaxIterationsLimit].
func NewConversationState(question string, maxIterations int) *ConversationState {
	maxIterations = ClampIterations(maxIterations)
	return &ConversationState{
		TurnID:         uuid.New().String(),
		CreatedAt:      time.Now().UTC(),
		Question:       strings.TrimSpace(question),
		Profile:        Profile{},
		K:              DefaultK,
		MaxIterations:  maxIterations,
		Passages:       []Passage{},
		RetrievalTrace: []TraceRecord{},
		CitedSources:   []string{},
		History:        []IterationRecord{},
	}
}

// Clone creates a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	c := *s

	c.Profile = s.Profile.Clone()
	c.Passages = slices.Clone(s.Passages)
	c.RetrievalTrace = slices.Clone(s.RetrievalTrace)
	c.CitedSources = slices.Clone(s.CitedSources)
	c.History = slices.Clone(s.History)
	c.Stages = slices.Clone(s.Stages)
	c.Verdict.UnsupportedClaims = slices.Clone(s.Verdict.UnsupportedClaims)

	if s.Claims != nil {
		c.Claims = make([]Claim, len(s.Claims))
		for i, claim := range s.Claims {
			c.Claims[i] = Claim{Text: claim.Text, PassageIDs: slices.Clone(claim.PassageIDs)}
		}
	}
	if s.ToolResult != nil {
		c.ToolResult = make(map[string]any, len(s.ToolResult))
		for k, v := range s.ToolResult {
			c.ToolResult[k] = v
		}
	}
	return &c
}

// AppendIteration appends an audit record. The history is never rewritten.
func (s *ConversationState) AppendIteration(rec IterationRecord) {
	s.History = append(s.History, rec)
}

// RecordProviderFailure marks the turn as failed by a model provider.
func (s *ConversationState) RecordProviderFailure(reason FailureReason, source string) {
	s.ProviderFailure = ProviderFailure{Occurred: true, Reason: reason, Source: source}
	s.Answer = ProviderFailureMessage(reason)
	s.CitedSources = []string{}
}

// SetCitedSources stores sources deduplicated in order of first appearance.
func (s *ConversationState) SetCitedSources(sources []string) {
	seen := make(map[string]bool, len(sources))
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	s.CitedSources = out
}

// PassageByID returns the passage for a 1-based id.
func (s *ConversationState) PassageByID(id int) (Passage, bool) {
	if id < 1 || id > len(s.Passages) {
		return Passage{}, false
	}
	return s.Passages[id-1], true
}

// CanRetry reports whether the retry budget allows another attempt.
func (s *ConversationState) CanRetry() bool {
	return s.IterationCount < s.MaxIterations
}

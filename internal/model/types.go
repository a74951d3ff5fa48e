package model

import "time"

// CaptureRecord is the raw input of one capture cycle. It is never persisted.
type CaptureRecord struct {
	ID         string    `json:"id"`
	SourceApp  string    `json:"sourceApp"`
	Text       string    `json:"text"`
	Image      []byte    `json:"-"`
	ImageMIME  string    `json:"imageMime,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// IsEmpty reports whether the capture carries neither text nor an image.
func (c CaptureRecord) IsEmpty() bool {
	return len(c.Image) == 0 && trimmedLen(c.Text) == 0
}

// CandidateEntity is an entity mention produced by extraction, before resolution.
type CandidateEntity struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
	Fact string `json:"fact,omitempty"`
}

// CandidateRelation is a directed relation mention produced by extraction.
type CandidateRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// MemoryFragment is an atomic extracted statement. It becomes immutable once committed,
// except for soft-delete.
type MemoryFragment struct {
	ID        string              `json:"id"`
	Content   string              `json:"content"`
	SourceApp string              `json:"sourceApp"`
	SessionID string              `json:"sessionId"`
	CaptureID string              `json:"captureId"`
	CreatedAt time.Time           `json:"createdAt"`
	Embedding []float32           `json:"-"`
	Entities  []CandidateEntity   `json:"entities,omitempty"`
	Relations []CandidateRelation `json:"relations,omitempty"`
	DeletedAt *time.Time          `json:"deletedAt,omitempty"`
}

// Fact is a statement attached to an entity together with the fragment it came from.
type Fact struct {
	Text       string    `json:"text"`
	FragmentID string    `json:"fragmentId"`
	AddedAt    time.Time `json:"addedAt"`
}

// Entity is a node of the entity graph.
type Entity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalizedName"`
	Kind           string    `json:"kind"`
	Facts          []Fact    `json:"facts"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
}

// HasFact reports whether text is already recorded verbatim.
func (e *Entity) HasFact(text string) bool {
	for _, f := range e.Facts {
		if f.Text == text {
			return true
		}
	}
	return false
}

// EntityEdge is a directed, labelled edge between two entities.
type EntityEdge struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	TargetID   string    `json:"targetId"`
	Relation   string    `json:"relation"`
	Weight     float64   `json:"weight"`
	Provenance []string  `json:"provenance,omitempty"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
}

// HasProvenance reports whether fragmentID already contributed to the edge.
func (e *EntityEdge) HasProvenance(fragmentID string) bool {
	for _, id := range e.Provenance {
		if id == fragmentID {
			return true
		}
	}
	return false
}

// ChatSummary is the aggregated text of one session.
type ChatSummary struct {
	SessionID     string    `json:"sessionId"`
	SourceApp     string    `json:"sourceApp"`
	Summary       string    `json:"summary"`
	FragmentCount int       `json:"fragmentCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MasterMemory is the single evolving summary across all sessions.
type MasterMemory struct {
	Summary   string    `json:"summary"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query selects fragments either by embedding similarity or by text match.
// Embedding takes precedence when both are set.
type Query struct {
	Text      string
	Embedding []float32
	Limit     int
}

// ScoredFragment is a ranked query result.
type ScoredFragment struct {
	Fragment *MemoryFragment `json:"fragment"`
	Score    float64         `json:"score"`
}

// Graph is a snapshot of the entity graph used for visualization.
type Graph struct {
	Entities []*Entity     `json:"entities"`
	Edges    []*EntityEdge `json:"edges"`
}

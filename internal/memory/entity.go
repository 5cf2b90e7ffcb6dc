// Package memory owns the long-term tier: typed, scored facts about a user,
// validated and persisted once per turn and retrieved in full on every turn.
package memory

import (
	"fmt"
	"time"
)

// EntityType is the closed set of fact categories the extractor may emit.
type EntityType string

const (
	TypeName         EntityType = "name"
	TypeAge          EntityType = "age"
	TypeOccupation   EntityType = "occupation"
	TypeLocation     EntityType = "location"
	TypePreference   EntityType = "preference"
	TypeFact         EntityType = "fact"
	TypeRelationship EntityType = "relationship"
)

// EntityTypes lists every valid entity type.
var EntityTypes = []EntityType{
	TypeName, TypeAge, TypeOccupation, TypeLocation,
	TypePreference, TypeFact, TypeRelationship,
}

// Valid reports whether t is a member of the closed type set.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TemporalStatus records whether a fact is still true.
type TemporalStatus string

const (
	TemporalPast    TemporalStatus = "past"    // previously true, no longer
	TemporalCurrent TemporalStatus = "current" // presently true
	TemporalFuture  TemporalStatus = "future"  // intended or planned
	TemporalNone    TemporalStatus = "none"    // timeless (e.g. a name)
)

// Valid reports whether s is one of the four temporal labels.
func (s TemporalStatus) Valid() bool {
	switch s {
	case TemporalPast, TemporalCurrent, TemporalFuture, TemporalNone:
		return true
	}
	return false
}

// Candidate is an extracted fact before validation and threshold filtering.
type Candidate struct {
	Type              EntityType     `json:"type"`
	Value             string         `json:"value"`
	Confidence        float64        `json:"confidence"`
	Importance        float64        `json:"importance"`
	TemporalStatus    TemporalStatus `json:"temporal_status"`
	ReferenceSentence string         `json:"reference_sentence,omitempty"`
}

// Normalize maps an absent temporal label to TemporalNone.
func (c Candidate) Normalize() Candidate {
	if c.TemporalStatus == "" {
		c.TemporalStatus = TemporalNone
	}
	return c
}

// Validate checks enum membership and score ranges. It does not apply the
// confidence threshold — that is persistence policy, not structural validity.
func (c Candidate) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("unknown entity type %q", c.Type)
	}
	if c.Value == "" {
		return fmt.Errorf("entity value is empty")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", c.Confidence)
	}
	if c.Importance < 0 || c.Importance > 1 {
		return fmt.Errorf("importance %v out of range [0,1]", c.Importance)
	}
	if !c.TemporalStatus.Valid() {
		return fmt.Errorf("unknown temporal status %q", c.TemporalStatus)
	}
	return nil
}

// MemoryEntity is the durable long-term unit. Entities are append-only: a
// changed fact becomes a new entity with a newer CreatedAt, never an edit.
type MemoryEntity struct {
	Key               string         `json:"-"`
	Type              EntityType     `json:"entity_type"`
	Value             string         `json:"value"`
	Confidence        float64        `json:"confidence"`
	Importance        float64        `json:"importance"`
	TemporalStatus    TemporalStatus `json:"temporal_status"`
	ReferenceSentence string         `json:"reference_sentence,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Display renders the entity as a context line: "type: value (temporal)",
// with the temporal suffix omitted for timeless facts.
func (e MemoryEntity) Display() string {
	if e.TemporalStatus == TemporalNone || e.TemporalStatus == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Value)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Type, e.Value, e.TemporalStatus)
}

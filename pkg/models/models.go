package models

import (
	"encoding/json"
	"time"
)

// ModelVersion identifies which consent semantic model a record declares.
type ModelVersion string

const (
	ModelLegacy  ModelVersion = "legacy"  // freely given, informed, specific, revocable
	ModelCurrent ModelVersion = "current" // participation-confirmed, outcome-correlated
)

func (m ModelVersion) Valid() bool {
	return m == ModelLegacy || m == ModelCurrent
}

// Legacy-model field names.
const (
	FieldFreelyGiven = "freely_given"
	FieldInformed    = "informed"
	FieldSpecific    = "specific"
	FieldUnambiguous = "unambiguous"
	FieldRevocable   = "revocable"
)

// Current-model field names.
const (
	FieldParticipation   = "confirmed_through_participation"
	FieldImprovesOutcome = "improves_outcomes"
	FieldReducesHarm     = "reduces_measurable_harm"
	FieldRetention       = "correlates_with_retention"
	FieldPreferenceMgmt  = "preference_management"
)

// ConsentRecord is one consent capture. It is owned by the engine for
// the duration of a single validation call and never retained.
type ConsentRecord struct {
	SubjectID    string          `json:"subject_id"`
	ModelVersion ModelVersion    `json:"model_version"`
	Fields       map[string]bool `json:"fields"`
	CapturedAt   time.Time       `json:"captured_at"`
}

// Clone returns a deep copy so translations never mutate their input.
func (r ConsentRecord) Clone() ConsentRecord {
	fields := make(map[string]bool, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

// InvariantID names one checkable property of a consent record.
type InvariantID string

const (
	InvLegacyFreelyGiven InvariantID = "LEGACY_FREELY_GIVEN"
	InvLegacyInformed    InvariantID = "LEGACY_INFORMED"
	InvLegacySpecific    InvariantID = "LEGACY_SPECIFIC"
	InvLegacyRevocable   InvariantID = "LEGACY_REVOCABLE"

	InvCurrentParticipation InvariantID = "CURRENT_PARTICIPATION_CONFIRMED"
	InvCurrentOutcome       InvariantID = "CURRENT_OUTCOME_POSITIVE"
	InvCurrentHarmBounded   InvariantID = "CURRENT_HARM_BOUNDED"
)

// ValidationResult reports which invariants a record satisfied under
// the requested mode. Divergent is meaningful only for DualCompare.
type ValidationResult struct {
	ModelVersion   ModelVersion  `json:"model_version"`
	Mode           string        `json:"mode"`
	Satisfied      []InvariantID `json:"satisfied"`
	Violated       []InvariantID `json:"violated"`
	Divergent      bool          `json:"divergent"`
	LegacyVerdict  string        `json:"legacy_verdict,omitempty"`
	CurrentVerdict string        `json:"current_verdict,omitempty"`
}

func (v ValidationResult) Passed() bool {
	return len(v.Violated) == 0
}

// Fidelity tells callers whether a translation preserved every field.
type Fidelity string

const (
	FidelityExact Fidelity = "exact"
	FidelityLossy Fidelity = "lossy"
)

// Discrepancy records a legacy field whose value lost a conflict with
// the current-model value for the same underlying fact.
type Discrepancy struct {
	LegacyField  string `json:"legacy_field"`
	CurrentField string `json:"current_field"`
	LegacyValue  bool   `json:"legacy_value"`
	CurrentValue bool   `json:"current_value"`
}

// Translation is the full result of one adapter call. Unmappable
// fields and discrepancies are always surfaced, never swallowed.
type Translation struct {
	Record        ConsentRecord `json:"record"`
	Fidelity      Fidelity      `json:"fidelity"`
	Unmappable    []string      `json:"unmappable,omitempty"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	ElapsedMicros int64         `json:"elapsed_micros"`
}

// BargainingCategory classifies a detected negotiation pattern.
type BargainingCategory string

const (
	BargainTemporal    BargainingCategory = "temporal"
	BargainFinancial   BargainingCategory = "financial"
	BargainBehavioral  BargainingCategory = "behavioral"
	BargainCommitment  BargainingCategory = "commitment"
	BargainDesperation BargainingCategory = "desperation"
	BargainNegotiation BargainingCategory = "negotiation"
)

// BargainingEvent is one detected bargaining utterance, append-only
// within a session.
type BargainingEvent struct {
	Category    BargainingCategory `json:"category"`
	MatchedSpan string             `json:"matched_span"`
	At          time.Time          `json:"at"`
}

// SilenceClass classifies a closed silence sample by duration.
type SilenceClass string

const (
	SilenceUnknown       SilenceClass = "unknown"
	SilenceProcessing    SilenceClass = "processing"
	SilenceContemplation SilenceClass = "contemplation"
	SilenceDissociation  SilenceClass = "dissociation"
	SilenceAbandonment   SilenceClass = "abandonment"
)

// SilenceSample is one silence period. A session has at most one open
// sample; classification is assigned when the sample closes.
type SilenceSample struct {
	StartedAt       time.Time    `json:"started_at"`
	DurationSeconds float64      `json:"duration_seconds"`
	Classification  SilenceClass `json:"classification"`
}

// Scores are the composite outputs of a session's metrics pipeline,
// recomputed on demand and never persisted by the engine.
type Scores struct {
	Engagement      float64 `json:"engagement_quality"`
	DependencyIndex float64 `json:"dependency_index"`
	PleaseCount     int     `json:"please_count"`
	BargainingCount int     `json:"bargaining_count"`
}

// CrisisTrigger names what tripped the crisis override.
type CrisisTrigger string

const (
	TriggerPleaseCritical  CrisisTrigger = "PLEASE_CRITICAL"
	TriggerSelfHarmKeyword CrisisTrigger = "SELF_HARM_KEYWORD"
)

// CrisisFlag is a mandatory-delivery signal. It is not an error and
// must reach the human-review channel at least once.
type CrisisFlag struct {
	SessionID string        `json:"session_id"`
	Trigger   CrisisTrigger `json:"trigger"`
	Detail    string        `json:"detail,omitempty"`
	At        time.Time     `json:"at"`
}

// SessionEvent is one ingested session occurrence. Delivery is
// at-least-once; EventID keys duplicate suppression.
type SessionEvent struct {
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id"`
	At         time.Time `json:"at"`
	Utterance  string    `json:"utterance,omitempty"`
	ActivityAt bool      `json:"activity_marker,omitempty"`
}

// Finding is a recorded semantic observation (divergence, unmappable
// fields, crisis) streamed to observers and written to the vault.
type Finding struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	At        string          `json:"at"`
	Data      json.RawMessage `json:"data,omitempty"`
}

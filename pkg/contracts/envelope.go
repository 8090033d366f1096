// Package contracts defines the types shared across the ledger: the signed
// event envelope, client submissions, emitter and evidence enums, and the
// fault taxonomy.
package contracts

// GenesisHash is the prev_event_hash sentinel for the first event of an
// asset: a sha256 reference of 64 zero digits.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// EmitterClass is the coarse origin category of an event author.
type EmitterClass string

const (
	EmitterHuman          EmitterClass = "HUMAN"
	EmitterSystem         EmitterClass = "SYSTEM"
	EmitterLedgerExternal EmitterClass = "LEDGER_EXTERNAL"
)

// EvidencePolicy is the registry-side rule governing how evidence must
// accompany an event type. It is copied onto the persisted event at write
// time.
type EvidencePolicy string

const (
	EvidenceRequired    EvidencePolicy = "REQUIRED"
	EvidenceInheritLast EvidencePolicy = "INHERIT_LAST"
	EvidenceOptional    EvidencePolicy = "OPTIONAL"
)

// EvidenceMode is the client-declared evidence handling on a submission.
// It admits WAIVER in addition to the registry policies.
type EvidenceMode string

const (
	ModeRequired    EvidenceMode = "REQUIRED"
	ModeInheritLast EvidenceMode = "INHERIT_LAST"
	ModeOptional    EvidenceMode = "OPTIONAL"
	ModeWaiver      EvidenceMode = "WAIVER"
)

// Roles carried by authenticated principals.
const (
	RoleUser           = "USER"
	RoleManager        = "MANAGER"
	RoleAdmin          = "ADMIN"
	RoleSystem         = "SYSTEM"
	RoleLedgerExternal = "LEDGER_EXTERNAL"
)

// EmitterClassForRole maps an authenticated role onto the emitter class it
// writes as. Roles outside the fixed mapping are rejected.
func EmitterClassForRole(role string) (EmitterClass, error) {
	switch role {
	case RoleUser, RoleManager, RoleAdmin:
		return EmitterHuman, nil
	case RoleSystem:
		return EmitterSystem, nil
	case RoleLedgerExternal:
		return EmitterLedgerExternal, nil
	default:
		return "", Faultf(BadRequest, "invalid role %q", role)
	}
}

// Envelope is the signed, hash-chained event record persisted to the ledger
// and returned to callers. Timestamp stays in its minted string form because
// it enters the hash input.
type Envelope struct {
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	AssetID          string         `json:"asset_id"`
	AggregateVersion int64          `json:"aggregate_version"`
	EmitterClass     EmitterClass   `json:"emitter_class"`
	EmitterID        string         `json:"emitter_id"`
	Timestamp        string         `json:"timestamp"`
	Evidence         map[string]any `json:"evidence"`
	Payload          map[string]any `json:"payload"`
	PrevEventHash    string         `json:"prev_event_hash"`
	EventHash        string         `json:"event_hash"`
	Signature        string         `json:"signature"`
}

// HashableFields returns the canonical object that enters the event hash:
// the envelope without prev_event_hash, event_hash, and signature.
func (e *Envelope) HashableFields() map[string]any {
	return map[string]any{
		"event_id":          e.EventID,
		"event_type":        e.EventType,
		"asset_id":          e.AssetID,
		"aggregate_version": e.AggregateVersion,
		"emitter_class":     string(e.EmitterClass),
		"emitter_id":        e.EmitterID,
		"timestamp":         e.Timestamp,
		"evidence":          e.Evidence,
		"payload":           e.Payload,
	}
}

// EvidenceHash returns evidence.evidence_hash when present and non-empty.
func (e *Envelope) EvidenceHash() (string, bool) {
	return stringField(e.Evidence, "evidence_hash")
}

// WaiverReason returns evidence.waiver_reason when present and non-empty.
func (e *Envelope) WaiverReason() (string, bool) {
	return stringField(e.Evidence, "waiver_reason")
}

// Submission is the client-supplied portion of an append request: the event
// type plus opaque evidence and payload objects. Server-minted fields are
// never accepted here; the validator rejects them before a Submission is
// formed.
type Submission struct {
	EventType string         `json:"event_type"`
	Evidence  map[string]any `json:"evidence"`
	Payload   map[string]any `json:"payload"`
}

// Mode returns the evidence mode declared on the submission, if any.
func (s *Submission) Mode() (EvidenceMode, bool) {
	v, ok := stringField(s.Evidence, "policy")
	return EvidenceMode(v), ok
}

// EvidenceHash returns evidence.evidence_hash when present and non-empty.
func (s *Submission) EvidenceHash() (string, bool) {
	return stringField(s.Evidence, "evidence_hash")
}

// WaiverReason returns evidence.waiver_reason when present and non-empty.
func (s *Submission) WaiverReason() (string, bool) {
	return stringField(s.Evidence, "waiver_reason")
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

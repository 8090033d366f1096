// Package validate gates append submissions before any transaction opens:
// forbidden-field rejection, shape checks, event-type existence, emitter
// RBAC, and the evidence policy matrix. Fail-closed throughout.
package validate

import (
	"strings"

	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/registry"
)

// ForbiddenFields are the server-minted keys a submission may never carry.
// Kept sorted so rejection messages are deterministic.
var ForbiddenFields = []string{
	"aggregate_version",
	"asset_id",
	"emitter_class",
	"emitter_id",
	"event_hash",
	"event_id",
	"prev_event_hash",
	"role",
	"signature",
	"tenant_id",
	"timestamp",
}

// Screen checks a decoded submission body for injected server fields and
// basic shape, returning the typed Submission on success.
func Screen(body map[string]any) (*contracts.Submission, error) {
	var injected []string
	for _, key := range ForbiddenFields {
		if _, ok := body[key]; ok {
			injected = append(injected, key)
		}
	}
	if len(injected) > 0 {
		return nil, contracts.Faultf(contracts.BadRequest,
			"submission contains server-assigned fields: %s", strings.Join(injected, ", "))
	}

	eventType, ok := body["event_type"].(string)
	if !ok || eventType == "" {
		return nil, contracts.NewFault(contracts.BadRequest, "event_type must be a non-empty string")
	}
	payload, ok := body["payload"].(map[string]any)
	if !ok {
		return nil, contracts.NewFault(contracts.BadRequest, "payload must be an object")
	}
	evidence, ok := body["evidence"].(map[string]any)
	if !ok {
		return nil, contracts.NewFault(contracts.BadRequest, "evidence must be an object")
	}
	if raw, present := evidence["evidence_hash"]; present {
		if s, isString := raw.(string); !isString || s == "" {
			return nil, contracts.NewFault(contracts.BadRequest, "evidence.evidence_hash must be a non-empty string")
		}
	}

	return &contracts.Submission{
		EventType: eventType,
		Evidence:  evidence,
		Payload:   payload,
	}, nil
}

// Gate runs the registry-driven policy checks for screened submissions.
type Gate struct {
	registry *registry.Registry
}

// NewGate builds a gate over the given registry.
func NewGate(reg *registry.Registry) *Gate {
	return &Gate{registry: reg}
}

// Check validates a screened submission for the caller's role. It returns
// the derived emitter class and the registry entry the append will record.
func (g *Gate) Check(role string, sub *contracts.Submission) (contracts.EmitterClass, *registry.Entry, error) {
	entry, err := g.registry.Get(sub.EventType)
	if err != nil {
		return "", nil, err
	}

	class, err := contracts.EmitterClassForRole(role)
	if err != nil {
		return "", nil, err
	}
	if !entry.Allows(class) {
		return "", nil, contracts.Faultf(contracts.PermissionDenied,
			"emitter class %s may not write event type %q", class, sub.EventType)
	}

	if err := checkEvidence(entry, sub); err != nil {
		return "", nil, err
	}

	if err := entry.ValidatePayload(sub.Payload); err != nil {
		return "", nil, contracts.WrapFault(contracts.BadRequest, "payload schema: "+err.Error(), err)
	}

	return class, entry, nil
}

// checkEvidence enforces the policy matrix between the registry policy and
// the submitted evidence mode.
func checkEvidence(entry *registry.Entry, sub *contracts.Submission) error {
	mode, ok := sub.Mode()
	if !ok {
		return violation(entry, sub, "none")
	}

	switch entry.EvidencePolicy {
	case contracts.EvidenceRequired:
		if mode != contracts.ModeRequired {
			return violation(entry, sub, string(mode))
		}
	case contracts.EvidenceInheritLast:
		if mode != contracts.ModeInheritLast && mode != contracts.ModeRequired {
			return violation(entry, sub, string(mode))
		}
	case contracts.EvidenceOptional:
		switch mode {
		case contracts.ModeOptional, contracts.ModeRequired, contracts.ModeInheritLast, contracts.ModeWaiver:
		default:
			return violation(entry, sub, string(mode))
		}
	}

	if mode == contracts.ModeWaiver {
		if _, ok := sub.WaiverReason(); !ok {
			return contracts.Faultf(contracts.EvidencePolicyViolation,
				"evidence policy WAIVER requires a non-empty waiver_reason")
		}
	}
	if mode == contracts.ModeRequired {
		if _, ok := sub.EvidenceHash(); !ok {
			return contracts.Faultf(contracts.EvidencePolicyViolation,
				"evidence policy REQUIRED needs evidence.evidence_hash")
		}
	}
	return nil
}

func violation(entry *registry.Entry, sub *contracts.Submission, actual string) error {
	return contracts.Faultf(contracts.EvidencePolicyViolation,
		"event type %q has evidence policy %s; submitted mode %s is not allowed",
		sub.EventType, entry.EvidencePolicy, actual)
}

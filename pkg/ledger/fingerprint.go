package ledger

import (
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/veriledger/veriledger/pkg/canonical"
	"github.com/veriledger/veriledger/pkg/contracts"
)

// Fingerprint derives the request fingerprint for idempotency checks: the
// SHA-256 hex of the RFC 8785 canonical form of {asset_id, event}, where
// event is the submitted body after forbidden-field screening. Two
// submissions with the same key must produce the same fingerprint to count
// as replays.
func Fingerprint(assetID string, submitted map[string]any) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"asset_id": assetID,
		"event":    submitted,
	})
	if err != nil {
		return "", contracts.WrapFault(contracts.EncodingError, "request is not JSON-encodable", err)
	}
	transformed, err := jcs.Transform(raw)
	if err != nil {
		return "", contracts.WrapFault(contracts.EncodingError, "request canonicalization failed", err)
	}
	return canonical.SHA256Hex(transformed), nil
}

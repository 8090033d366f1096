// Package canonical provides the deterministic JSON serialization used as
// the hashing input for ledger events, plus SHA-256 helpers.
//
// Guarantees: object keys sorted lexicographically at every depth, no
// whitespace between tokens, non-ASCII emitted as raw UTF-8 (never \uXXXX),
// numeric literals preserved via json.Number. Structurally equal values
// yield byte-identical output.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// HashPrefix tags every hash reference produced by this package.
const HashPrefix = "sha256:"

// Bytes returns the canonical JSON encoding of v.
//
// v is first marshaled with encoding/json (honoring struct tags), decoded
// back through json.Number so numeric literals survive byte-exactly, then
// re-marshaled with sorted keys and escaping disabled. Values encoding/json
// cannot represent (NaN, Inf, channels) fail with an EncodingError fault.
func Bytes(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, contracts.WrapFault(contracts.EncodingError, "value is not JSON-encodable", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, contracts.WrapFault(contracts.EncodingError, "intermediate decode failed", err)
	}

	var buf bytes.Buffer
	if err := appendValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String returns the canonical encoding of v as a string.
func String(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SHA256Prefixed returns "sha256:" + SHA256Hex(b).
func SHA256Prefixed(b []byte) string {
	return HashPrefix + SHA256Hex(b)
}

func appendValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		appendString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendString(buf, k)
			buf.WriteByte(':')
			if err := appendValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// The intermediate decode only yields the cases above.
		return contracts.Faultf(contracts.EncodingError, "unsupported canonical type %T", v)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// appendString writes s as a JSON string, escaping only what the grammar
// requires. Non-ASCII bytes pass through untouched; escaping them would
// change hash inputs.
func appendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c >= 0x20:
			buf.WriteByte(c)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		}
	}
	buf.WriteByte('"')
}

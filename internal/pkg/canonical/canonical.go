// Package canonical produces the deterministic byte form of registry documents that is
// hashed and anchored.
//
// Rules: a top-level ledger_reference member is dropped; object keys are sorted by
// byte-wise comparison of their UTF-8 encoding at every level; no insignificant
// whitespace is emitted; strings are JSON-escaped without HTML escaping; numbers are
// rewritten as plain fixed-point decimals with no exponent, no trailing fractional
// zeros and no negative zero (1e3 -> 1000, 1.50 -> 1.5, -0.0 -> 0).
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"ogcr-registry/internal/domain"

	"github.com/shopspring/decimal"
)

// LedgerReferenceField is excluded from the hash input of the document it annotates.
const LedgerReferenceField = "ledger_reference"

// Canonicalize returns the canonical encoding of v. v may be a Go value that
// encoding/json can marshal, or raw JSON ([]byte, json.RawMessage).
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := toJSON(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, domain.Wrap(domain.SerializationError, "document is not valid JSON", err)
	}
	if obj, ok := generic.(map[string]interface{}); ok {
		delete(obj, LedgerReferenceField)
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the hex SHA-256 digest of the canonical form of v together with the
// canonical bytes.
func Hash(v interface{}) (string, []byte, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", nil, err
	}
	return Digest(b), b, nil
}

// Digest is the hex SHA-256 of already-canonical bytes.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func toJSON(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, domain.NewError(domain.SerializationError, "document is nil", nil)
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	case string:
		return []byte(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		// non-finite floats, cycles, channels and funcs all land here
		return nil, domain.Wrap(domain.SerializationError, "document is not JSON-representable", err)
	}
	return b, nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
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
		s, err := Number(string(t))
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case string:
		return encodeString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
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
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return domain.NewError(domain.SerializationError, fmt.Sprintf("unsupported value of type %T", v), nil)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return domain.Wrap(domain.SerializationError, "string cannot be encoded", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// Number rewrites a JSON number literal into the canonical fixed-point form.
func Number(lit string) (string, error) {
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return "", domain.Wrap(domain.SerializationError, "invalid number "+lit, err)
	}
	return d.String(), nil
}

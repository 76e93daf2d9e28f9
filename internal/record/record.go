// Package record defines the loosely-typed record model shared by the
// local store, the remote store client, and the sync engine.
package record

import (
	"encoding/json"
	"strconv"
)

// Well-known record fields.
const (
	IDField         = "id"
	UpdatedAtField  = "updatedAt"
	CreatedAtField  = "createdAt"
	MigratedAtField = "migratedAt"
)

// Record is one domain entity (habit, transaction, goal, ...) as a
// JSON object. Every record carries an id unique within its table and
// an updatedAt timestamp in milliseconds since the Unix epoch, stamped
// by the writer on every create or mutation.
type Record map[string]any

// CanonicalID returns the record id in the canonical string form used
// as the remote document key and for cross-store correlation. Numeric
// local ids stringify without a fractional part; opaque string ids
// pass through unchanged. Returns "" when the record has no id.
func (r Record) CanonicalID() string {
	return CanonicalID(r[IDField])
}

// CanonicalID stringifies an identifier value. Local ids are numeric
// (auto-increment) and remote ids are opaque strings; both stores key
// records by the same stringified form so the rest of the engine never
// sees the type ambiguity.
func CanonicalID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case uint64:
		return strconv.FormatUint(id, 10)
	case float64:
		// JSON numbers decode as float64. Millisecond timestamps and
		// auto-increment ids are well below 2^53, so this is exact.
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// UpdatedAt returns the record's updatedAt timestamp in milliseconds,
// or 0 when unset or non-numeric.
func (r Record) UpdatedAt() int64 {
	return timestamp(r[UpdatedAtField])
}

// CreatedAt returns the record's createdAt timestamp in milliseconds,
// or 0 when unset.
func (r Record) CreatedAt() int64 {
	return timestamp(r[CreatedAtField])
}

func timestamp(v any) int64 {
	switch ts := v.(type) {
	case int64:
		return ts
	case int:
		return int64(ts)
	case float64:
		return int64(ts)
	case json.Number:
		n, err := ts.Int64()
		if err != nil {
			return 0
		}

		return n
	default:
		return 0
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// WithoutID returns a shallow copy of the record with the id field
// removed. Used when the identifier becomes the document key rather
// than a payload field.
func (r Record) WithoutID() Record {
	out := r.Clone()
	delete(out, IDField)

	return out
}

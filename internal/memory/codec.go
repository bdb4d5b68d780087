package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrInvalidPayload is returned by import when the payload is not an
// object carrying a facts array. The record is left untouched.
var ErrInvalidPayload = errors.New("invalid memory payload: missing facts array")

// recordJSON is the persisted / exchanged record shape. Fact timestamps
// are ISO-8601 strings while the store-level updatedAt is epoch
// milliseconds; the asymmetry is part of the schema and kept for
// compatibility with existing export files.
type recordJSON struct {
	Version     int               `json:"version"`
	OwnerCharID *string           `json:"ownerCharId"`
	Facts       []json.RawMessage `json:"facts"`
	UpdatedAt   int64             `json:"updatedAt"`
}

// MarshalJSON implements json.Marshaler.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Version:     r.Version,
		OwnerCharID: r.OwnerCharID,
		Facts:       make([]json.RawMessage, 0, len(r.Facts)),
		UpdatedAt:   r.UpdatedAt.UnixMilli(),
	}
	if out.Version == 0 {
		out.Version = SchemaVersion
	}
	for _, f := range r.Facts {
		raw, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		out.Facts = append(out.Facts, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Version = raw.Version
	if r.Version == 0 {
		r.Version = SchemaVersion
	}
	r.OwnerCharID = raw.OwnerCharID
	r.Facts = nil
	for _, fr := range raw.Facts {
		f := &Fact{}
		if err := json.Unmarshal(fr, f); err != nil {
			return err
		}
		r.Facts = append(r.Facts, f)
	}
	if raw.UpdatedAt > 0 {
		r.UpdatedAt = time.UnixMilli(raw.UpdatedAt).UTC()
	}
	return nil
}

// Export writes the record as indented JSON.
func (r *Record) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding memory record: %w", err)
	}
	return nil
}

// Import validates and normalizes an exported payload, replacing the
// record's fact list. The payload must be a JSON object with a facts
// array; anything else is rejected with ErrInvalidPayload and no
// mutation. Each imported fact goes through the same defaulting and
// clamping as fresh creation, and duplicate keys collapse through merge
// so the key invariant holds even for hand-edited files. The owner lock
// is not importable; it belongs to the conversation, not the file.
func (r *Record) Import(rd io.Reader, now time.Time) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return fmt.Errorf("reading import payload: %w", err)
	}

	var probe struct {
		Facts *[]json.RawMessage `json:"facts"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Facts == nil {
		return ErrInvalidPayload
	}

	incoming := make([]*Fact, 0, len(*probe.Facts))
	for _, fr := range *probe.Facts {
		f := &Fact{}
		if err := json.Unmarshal(fr, f); err != nil {
			return ErrInvalidPayload
		}
		f.Normalize(now)
		incoming = append(incoming, f)
	}

	r.Facts = nil
	r.Merge(incoming, now)
	// Merge only refreshes lastSeenAt for duplicate keys; imported
	// timestamps on appended facts stay as the file recorded them.
	r.Touch(now)
	return nil
}

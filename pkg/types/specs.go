package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Specs is an ordered mapping of product attribute names to either a text
// value or a nested Specs group. Key order is preserved through JSON.
type Specs []SpecEntry

// SpecEntry is one key of a Specs mapping.
type SpecEntry struct {
	Key   string
	Value SpecValue
}

// SpecValue holds exactly one of Text or Nested.
type SpecValue struct {
	Text   string
	Nested Specs
}

// IsNested reports whether the value is a nested group.
func (v SpecValue) IsNested() bool {
	return v.Nested != nil
}

// Get returns the value stored under key.
func (s Specs) Get(key string) (SpecValue, bool) {
	for _, entry := range s {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return SpecValue{}, false
}

// Validate rejects empty or duplicate keys at any depth.
func (s Specs) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, entry := range s {
		if entry.Key == "" {
			return fmt.Errorf("specs: empty key")
		}
		if _, dup := seen[entry.Key]; dup {
			return fmt.Errorf("specs: duplicate key %q", entry.Key)
		}
		seen[entry.Key] = struct{}{}
		if entry.Value.IsNested() {
			if err := entry.Value.Nested.Validate(); err != nil {
				return fmt.Errorf("%s: %w", entry.Key, err)
			}
		}
	}
	return nil
}

func (s Specs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var val []byte
		if entry.Value.IsNested() {
			val, err = entry.Value.Nested.MarshalJSON()
		} else {
			val, err = json.Marshal(entry.Value.Text)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Specs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	parsed, err := decodeSpecs(dec)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func decodeSpecs(dec *json.Decoder) (Specs, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("specs: expected object, got %v", tok)
	}

	out := Specs{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("specs: expected key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace(raw)

		entry := SpecEntry{Key: key}
		if len(raw) > 0 && raw[0] == '{' {
			nested, err := decodeSpecs(json.NewDecoder(bytes.NewReader(raw)))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			entry.Value.Nested = nested
		} else if err := json.Unmarshal(raw, &entry.Value.Text); err != nil {
			return nil, fmt.Errorf("specs: value for %q must be a string or object", key)
		}
		out = append(out, entry)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// Value marshals the specs into JSON for storage.
func (s Specs) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	buf, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes stored JSON into the ordered mapping.
func (s *Specs) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("specs: unsupported scan type %T", value)
	}
	return s.UnmarshalJSON(raw)
}

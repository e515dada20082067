package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap persists a credential's permission_map column as spec §3 requires:
// a JSON object of action-key -> bool.
type JSONMap map[string]bool

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, err := toBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, m)
}

// JSONUint persists allowed_group_ids / allowed_email_ids as a JSON array
// of uints.
type JSONUint []uint

func (s JSONUint) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *JSONUint) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, err := toBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, s)
}

// JSONAny persists ApiCallRecord.metadata, an open bag carrying at least
// request_id.
type JSONAny map[string]interface{}

func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONAny) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, err := toBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, m)
}

func toBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("store: unsupported scan type %T", value)
	}
}

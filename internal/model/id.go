package model

import (
	"encoding/json"
	"errors"
	"strconv"
)

// ID is an opaque session or user identifier. Clients send it either as a
// JSON number or as a JSON string; numeric ids are written back as numbers.
type ID string

// UnmarshalJSON accepts numbers and strings.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id must be a number or a string")
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer-looking ids as numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isInt() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

// Empty reports whether the id was never set.
func (id ID) Empty() bool { return id == "" }

func (id ID) isInt() bool {
	if id == "" {
		return false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

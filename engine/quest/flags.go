package quest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// FlagKind discriminates the closed set of flag value types. Narrative flags
// are deliberately not arbitrary JSON: keeping the value space closed keeps
// branch predicates deterministic.
type FlagKind string

const (
	FlagBool   FlagKind = "bool"
	FlagInt    FlagKind = "int"
	FlagString FlagKind = "string"
)

// FlagValue is a tagged scalar. The zero value is a false bool.
type FlagValue struct {
	Kind FlagKind
	B    bool
	I    int64
	S    string
}

// BoolFlag, IntFlag and StringFlag build tagged values.
func BoolFlag(v bool) FlagValue     { return FlagValue{Kind: FlagBool, B: v} }
func IntFlag(v int64) FlagValue     { return FlagValue{Kind: FlagInt, I: v} }
func StringFlag(v string) FlagValue { return FlagValue{Kind: FlagString, S: v} }

// MarshalJSON writes the bare scalar.
func (v FlagValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case FlagInt:
		return json.Marshal(v.I)
	case FlagString:
		return json.Marshal(v.S)
	default:
		return json.Marshal(v.B)
	}
}

// UnmarshalJSON accepts a bool, an integer, or a string. Anything else
// (floats, objects, arrays, null) is rejected at write time.
func (v *FlagValue) UnmarshalJSON(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	switch t := x.(type) {
	case bool:
		*v = BoolFlag(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return fmt.Errorf("quest: flag value %s is not an integer", t)
		}
		*v = IntFlag(i)
	case string:
		*v = StringFlag(t)
	default:
		return fmt.Errorf("quest: flag value must be bool, int or string")
	}
	return nil
}

// Flags is the narrative flag store of one quest instance.
type Flags map[string]FlagValue

// DecodeFlags parses a stored flags column.
func DecodeFlags(raw datatypes.JSON) (Flags, error) {
	f := make(Flags)
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("quest: decode flags: %w", err)
	}
	return f, nil
}

// Encode serializes the flags for storage.
func (f Flags) Encode() datatypes.JSON {
	raw, _ := json.Marshal(f)
	return datatypes.JSON(raw)
}

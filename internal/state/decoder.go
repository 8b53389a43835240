package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/joshp123/thinq/internal/model"
)

// Display sentinels. None marks a field the appliance reports as empty;
// Unknown marks an enum code the model descriptor does not declare.
const (
	OptionNone    = "-"
	OptionUnknown = "unknown"
)

// DecodeError means the snapshot payload was structurally unusable. Unknown
// codes and absent fields never produce one.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode snapshot: %s: %v", e.Reason, e.Err)
	}
	return "decode snapshot: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Value is one decoded attribute. Raw keeps the wire value; Text is the
// display form. Unknown flags an undeclared enum code, Supported is false
// for raw passthrough fields decoded without a capability.
type Value struct {
	Raw       any    `json:"raw"`
	Text      string `json:"text"`
	Supported bool   `json:"supported"`
	Unknown   bool   `json:"unknown,omitempty"`
}

// Snapshot is a decoded device state. Each poll produces a full replacement;
// consumers never merge snapshots.
type Snapshot struct {
	Attributes map[string]Value `json:"attributes"`
	Raw        json.RawMessage  `json:"raw,omitempty"`
}

// Attribute returns a decoded attribute by snapshot key.
func (s Snapshot) Attribute(key string) (Value, bool) {
	v, ok := s.Attributes[key]
	return v, ok
}

// Decode turns a raw state payload into a Snapshot. With a nil capability
// every payload field passes through unsupported; with one, undeclared fields
// are dropped and declared fields decode by their attribute type. Unknown
// enum codes become the unknown sentinel, never an error.
func Decode(raw []byte, capability *model.Capability) (Snapshot, error) {
	if len(raw) == 0 {
		return Snapshot{}, &DecodeError{Reason: "empty payload"}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Snapshot{}, &DecodeError{Reason: "payload is not an object", Err: err}
	}

	fields := productRoot(payload, capability)
	snapshot := Snapshot{
		Attributes: make(map[string]Value, len(fields)),
		Raw:        raw,
	}

	for key, data := range fields {
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return Snapshot{}, &DecodeError{Reason: "field " + key, Err: err}
		}

		if capability == nil {
			snapshot.Attributes[key] = Value{Raw: value, Text: stringify(value), Supported: false}
			continue
		}

		attr, declared := capability.Attribute(key)
		if !declared {
			continue
		}
		snapshot.Attributes[key] = decodeAttribute(capability, key, attr, value)
	}

	if capability != nil {
		synthesizeDurations(capability, snapshot.Attributes)
	}

	return snapshot, nil
}

// productRoot unwraps the vendor's one-level product nesting
// ({"washerDryer":{...}}) by picking the object member that matches the most
// declared attributes. Flat payloads come back unchanged.
func productRoot(payload map[string]json.RawMessage, capability *model.Capability) map[string]json.RawMessage {
	if capability == nil {
		if len(payload) == 1 {
			for _, data := range payload {
				var nested map[string]json.RawMessage
				if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
					return nested
				}
			}
		}
		return payload
	}

	best := payload
	bestMatches := declaredMatches(payload, capability)
	for _, data := range payload {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(data, &nested); err != nil {
			continue
		}
		if matches := declaredMatches(nested, capability); matches > bestMatches {
			best, bestMatches = nested, matches
		}
	}
	return best
}

func declaredMatches(fields map[string]json.RawMessage, capability *model.Capability) int {
	matches := 0
	for key := range fields {
		if _, ok := capability.Attribute(key); ok {
			matches++
		}
	}
	return matches
}

func decodeAttribute(capability *model.Capability, key string, attr model.Attribute, value any) Value {
	switch attr.Type {
	case model.TypeEnum, model.TypeReference:
		code := stringify(value)
		if code == "" || code == OptionNone {
			return Value{Raw: value, Text: OptionNone, Supported: true}
		}
		label, ok := capability.EnumLabel(key, code)
		if !ok {
			return Value{Raw: value, Text: OptionUnknown, Supported: true, Unknown: true}
		}
		return Value{Raw: value, Text: label, Supported: true}

	case model.TypeBit, model.TypeBoolean:
		if truthy(value) {
			return Value{Raw: value, Text: "on", Supported: true}
		}
		return Value{Raw: value, Text: "off", Supported: true}

	case model.TypeRange, model.TypeNumber:
		return Value{Raw: value, Text: stringify(value), Supported: true}

	default:
		return Value{Raw: value, Text: stringify(value), Supported: true}
	}
}

// synthesizeDurations folds hourKey/minuteKey pairs (remainTimeHour +
// remainTimeMinute and friends) into a combined h:mm attribute, and rewrites
// lone minute counters the same way.
func synthesizeDurations(capability *model.Capability, attrs map[string]Value) {
	for key, value := range attrs {
		base, ok := strings.CutSuffix(key, "Hour")
		if !ok {
			continue
		}
		hours, ok := asInt(value.Raw)
		if !ok {
			continue
		}

		minutes := 0
		if mv, present := attrs[base+"Minute"]; present {
			if m, ok := asInt(mv.Raw); ok {
				minutes = m
			}
		}
		attrs[base] = Value{
			Raw:       hours*60 + minutes,
			Text:      fmt.Sprintf("%d:%02d", hours, minutes),
			Supported: true,
		}
	}

	for key, value := range attrs {
		base, ok := strings.CutSuffix(key, "Minute")
		if !ok {
			continue
		}
		if _, combined := attrs[base]; combined {
			continue
		}
		if _, hasHour := attrs[base+"Hour"]; hasHour {
			continue
		}
		total, ok := asInt(value.Raw)
		if !ok {
			continue
		}
		attrs[base] = Value{
			Raw:       total,
			Text:      fmt.Sprintf("%d:%02d", total/60, total%60),
			Supported: true,
		}
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return OptionNone
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToUpper(v) {
		case "", "0", "FALSE", "OFF", "@CP_OFF_EN_W", "INITIAL_BIT_OFF":
			return false
		}
		return true
	default:
		return false
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

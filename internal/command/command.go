package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/joshp123/thinq/internal/model"
)

// PendingCommand is a consumer's remote-start request: a course plus option
// overrides on top of the course defaults.
type PendingCommand struct {
	Course  string            `json:"course"`
	Options map[string]string `json:"options,omitempty"`
}

// Dropped reports an override that was excluded from the wire payload
// because the course does not allow the option. The vendor app silently
// ignores these; we encode anyway but tell the consumer what was lost.
type Dropped struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// UnknownCourseError rejects a course the model does not declare.
type UnknownCourseError struct {
	Course string
}

func (e *UnknownCourseError) Error() string {
	return fmt.Sprintf("unknown course %q", e.Course)
}

// InvalidOptionValueError rejects an override whose value the course cannot
// accept. Unlike a disallowed key this is a hard failure: sending it could
// start the appliance with settings the drum or heater cannot do.
type InvalidOptionValueError struct {
	Key     string
	Value   string
	Allowed []string
}

func (e *InvalidOptionValueError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("option %s: value %q not in %s", e.Key, e.Value, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("option %s: value %q out of range", e.Key, e.Value)
}

// Encoded is a ready-to-send ThinQ2 control payload. Encoding performs no
// network I/O; the facade posts the payload.
type Encoded struct {
	CtrlKey     string                    `json:"ctrlKey"`
	Command     string                    `json:"command"`
	DataSetList map[string]map[string]any `json:"dataSetList"`
	DataGetList any                       `json:"dataGetList"`
}

// DataSet returns the product-level field map of the payload.
func (e Encoded) DataSet() map[string]any {
	for _, fields := range e.DataSetList {
		return fields
	}
	return nil
}

const (
	ctrlKeyBasic = "basicCtrl"
	commandSet   = "Set"
	// initialBitOn arms remote start; the physical start button stays with
	// whoever loaded the drum.
	initialBitOn = "INITIAL_BIT_ON"
)

// ValidateAndEncode checks a pending command against the model capability
// and builds the control payload. Disallowed override keys are dropped and
// reported; invalid values for allowed keys fail hard; an unknown course
// fails hard. A command whose overrides all drop still encodes the base
// course with its defaults.
func ValidateAndEncode(cmd PendingCommand, capability *model.Capability) (Encoded, []Dropped, error) {
	if capability == nil {
		return Encoded{}, nil, fmt.Errorf("cannot encode without a model capability")
	}

	course, ok := capability.Course(cmd.Course)
	if !ok {
		return Encoded{}, nil, &UnknownCourseError{Course: cmd.Course}
	}

	allowed := make(map[string]model.CourseFunction, len(course.Functions))
	for _, fn := range course.Functions {
		allowed[fn.Key] = fn
	}

	var dropped []Dropped
	accepted := make(map[string]string)
	for _, key := range sortedKeys(cmd.Options) {
		value := cmd.Options[key]
		fn, ok := allowed[key]
		if !ok {
			dropped = append(dropped, Dropped{
				Key:    key,
				Value:  value,
				Reason: fmt.Sprintf("option not allowed for course %s", cmd.Course),
			})
			continue
		}
		if err := checkValue(capability, fn, value); err != nil {
			return Encoded{}, nil, err
		}
		accepted[key] = value
	}

	dataSet := map[string]any{
		"courseType": course.Type,
		"initialBit": initialBitOn,
	}
	courseKey := capability.CourseKey
	if course.Type == "SmartCourse" {
		courseKey = capability.SmartCourseKey
	}
	dataSet[courseKey] = course.ID

	// Course defaults first, accepted overrides on top.
	for _, fn := range course.Functions {
		value := fn.Default
		if override, ok := accepted[fn.Key]; ok {
			value = override
		}
		if value == "" {
			continue
		}
		dataSet[fn.Key] = value
	}

	return Encoded{
		CtrlKey:     ctrlKeyBasic,
		Command:     commandSet,
		DataSetList: map[string]map[string]any{productNode(capability.ProductType): dataSet},
		DataGetList: nil,
	}, dropped, nil
}

func checkValue(capability *model.Capability, fn model.CourseFunction, value string) error {
	if len(fn.Selectable) > 0 {
		for _, candidate := range fn.Selectable {
			if candidate == value {
				return nil
			}
		}
		return &InvalidOptionValueError{Key: fn.Key, Value: value, Allowed: fn.Selectable}
	}

	// No selectable list: fall back to the attribute declaration.
	attr, ok := capability.Attribute(fn.Key)
	if !ok {
		return nil
	}
	switch attr.Type {
	case model.TypeEnum:
		if _, ok := attr.Labels[value]; !ok {
			return &InvalidOptionValueError{Key: fn.Key, Value: value, Allowed: sortedKeys(attr.Labels)}
		}
	case model.TypeRange:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil || n < attr.Min || n > attr.Max {
			return &InvalidOptionValueError{Key: fn.Key, Value: value}
		}
	}
	return nil
}

// productNode maps the descriptor's product type to the dataSetList node the
// backend expects.
func productNode(productType string) string {
	switch productType {
	case "WM", "WD":
		return "washerDryer"
	case "DW":
		return "dishwasher"
	case "AC":
		return "airState"
	case "REF":
		return "refState"
	default:
		if productType == "" {
			return "washerDryer"
		}
		return strings.ToLower(productType)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueType tags how a monitored attribute decodes.
type ValueType string

const (
	TypeEnum      ValueType = "enum"
	TypeRange     ValueType = "range"
	TypeBit       ValueType = "bit"
	TypeBoolean   ValueType = "boolean"
	TypeString    ValueType = "string"
	TypeNumber    ValueType = "number"
	TypeReference ValueType = "reference"
)

// Attribute describes one monitored field of a model descriptor.
type Attribute struct {
	Type ValueType
	// Labels maps enum codes to label references, e.g. "@WM_STATE_POWER_OFF_W".
	Labels map[string]string
	Min    float64
	Max    float64
	Step   float64
	// Ref names the descriptor section a reference attribute points into,
	// e.g. "Course".
	Ref string
}

// CourseFunction is one configurable option of a course: its key, factory
// default, and the values the appliance accepts for this course.
type CourseFunction struct {
	Key        string   `json:"value"`
	Default    string   `json:"default"`
	Selectable []string `json:"selectable"`
}

// Course is a named wash/dry program with its option set.
type Course struct {
	ID        string
	Name      string
	Type      string
	Functions []CourseFunction
}

// Capability is the decoded model descriptor for one appliance model in one
// language. Instances are immutable once built; the loader shares them across
// devices of the same model.
type Capability struct {
	ModelName   string
	ProductType string
	Attributes  map[string]Attribute
	Courses     map[string]Course
	// CourseKey and SmartCourseKey are the snapshot/control field names the
	// model uses for course selection ("course"/"courseFM" and friends).
	CourseKey      string
	SmartCourseKey string

	labels map[string]string
}

// Attribute returns the declared attribute for a snapshot key.
func (c *Capability) Attribute(key string) (Attribute, bool) {
	attr, ok := c.Attributes[key]
	return attr, ok
}

// EnumLabel resolves an enum code to its display label. The second return is
// false when the code is not declared for the attribute; the decoder maps
// that to the unknown sentinel.
func (c *Capability) EnumLabel(key, code string) (string, bool) {
	attr, ok := c.Attributes[key]
	if !ok || (attr.Type != TypeEnum && attr.Type != TypeReference) {
		return "", false
	}
	if attr.Type == TypeReference {
		course, ok := c.Courses[code]
		if !ok {
			return "", false
		}
		return c.ResolveLabel(course.Name), true
	}
	ref, ok := attr.Labels[code]
	if !ok {
		return "", false
	}
	return c.ResolveLabel(ref), true
}

// Course looks a course up by its wire ID.
func (c *Capability) Course(id string) (Course, bool) {
	course, ok := c.Courses[id]
	return course, ok
}

// ResolveLabel translates an @-reference through the language pack, falling
// back to the built-in table and finally to the reference itself.
func (c *Capability) ResolveLabel(ref string) string {
	if !strings.HasPrefix(ref, "@") {
		return ref
	}
	if text, ok := c.labels[ref]; ok {
		return text
	}
	if text, ok := localLabels[ref]; ok {
		return text
	}
	return ref
}

// rawDescriptor mirrors the vendor model JSON closely enough to lift out
// what the decoder and encoder need.
type rawDescriptor struct {
	Info struct {
		ModelName   string `json:"modelName"`
		ProductType string `json:"productType"`
	} `json:"Info"`
	MonitoringValue map[string]rawAttribute    `json:"MonitoringValue"`
	Course          map[string]json.RawMessage `json:"Course"`
	SmartCourse     map[string]json.RawMessage `json:"SmartCourse"`
	Config          struct {
		CourseKey      string `json:"courseType"`
		SmartCourseKey string `json:"smartCourseType"`
	} `json:"Config"`
}

type rawAttribute struct {
	DataType     string                     `json:"dataType"`
	Ref          string                     `json:"ref"`
	ValueMapping map[string]json.RawMessage `json:"valueMapping"`
}

type rawCourse struct {
	Name     string           `json:"name"`
	Type     string           `json:"courseType"`
	Function []CourseFunction `json:"function"`
}

// ParseCapability decodes a model descriptor document. The optional langPack
// document supplies locale label texts; a nil pack leaves only the built-in
// fallbacks.
func ParseCapability(descriptor, langPack []byte) (*Capability, error) {
	var raw rawDescriptor
	if err := json.Unmarshal(descriptor, &raw); err != nil {
		return nil, fmt.Errorf("parse model descriptor: %w", err)
	}
	if len(raw.MonitoringValue) == 0 {
		return nil, fmt.Errorf("model descriptor has no MonitoringValue section")
	}

	c := &Capability{
		ModelName:      raw.Info.ModelName,
		ProductType:    raw.Info.ProductType,
		Attributes:     make(map[string]Attribute, len(raw.MonitoringValue)),
		Courses:        make(map[string]Course),
		CourseKey:      defaultString(raw.Config.CourseKey, "course"),
		SmartCourseKey: defaultString(raw.Config.SmartCourseKey, "smartCourse"),
		labels:         parseLangPack(langPack),
	}

	for key, attr := range raw.MonitoringValue {
		parsed, err := parseAttribute(attr)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		c.Attributes[key] = parsed
	}

	for id, data := range raw.Course {
		course, err := parseCourse(id, data, "Course")
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", id, err)
		}
		c.Courses[id] = course
	}
	for id, data := range raw.SmartCourse {
		course, err := parseCourse(id, data, "SmartCourse")
		if err != nil {
			return nil, fmt.Errorf("smart course %s: %w", id, err)
		}
		c.Courses[id] = course
	}

	return c, nil
}

func parseAttribute(raw rawAttribute) (Attribute, error) {
	switch strings.ToLower(raw.DataType) {
	case "enum":
		labels := make(map[string]string, len(raw.ValueMapping))
		for code, entry := range raw.ValueMapping {
			var v struct {
				Label string `json:"label"`
			}
			if err := json.Unmarshal(entry, &v); err != nil {
				return Attribute{}, fmt.Errorf("enum entry %s: %w", code, err)
			}
			labels[code] = v.Label
		}
		return Attribute{Type: TypeEnum, Labels: labels}, nil

	case "range", "number":
		attr := Attribute{Type: TypeRange, Step: 1}
		if len(raw.ValueMapping) == 0 {
			return Attribute{Type: TypeNumber}, nil
		}
		for key, entry := range raw.ValueMapping {
			var v float64
			if err := json.Unmarshal(entry, &v); err != nil {
				return Attribute{}, fmt.Errorf("range bound %s: %w", key, err)
			}
			switch key {
			case "min":
				attr.Min = v
			case "max":
				attr.Max = v
			case "step":
				attr.Step = v
			}
		}
		if attr.Max < attr.Min {
			return Attribute{}, fmt.Errorf("range max %v below min %v", attr.Max, attr.Min)
		}
		return attr, nil

	case "bit":
		return Attribute{Type: TypeBit}, nil
	case "boolean":
		return Attribute{Type: TypeBoolean}, nil
	case "string":
		return Attribute{Type: TypeString}, nil
	case "reference":
		ref := raw.Ref
		if ref == "" {
			ref = "Course"
		}
		return Attribute{Type: TypeReference, Ref: ref}, nil
	default:
		// Unrecognized attribute types pass values through untyped rather
		// than failing the whole descriptor.
		return Attribute{Type: TypeString}, nil
	}
}

func parseCourse(id string, data []byte, fallbackType string) (Course, error) {
	var raw rawCourse
	if err := json.Unmarshal(data, &raw); err != nil {
		return Course{}, err
	}
	course := Course{
		ID:        id,
		Name:      raw.Name,
		Type:      defaultString(raw.Type, fallbackType),
		Functions: raw.Function,
	}
	if course.Name == "" {
		course.Name = id
	}
	return course, nil
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

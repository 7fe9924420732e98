package analysis

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/genai"
)

// FieldType is the JSON type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one node of the output shape. The same definition drives the
// schema sent to the model and the validation of what comes back.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Enum        []string
	Required    bool

	Items  *Field  // element shape for arrays
	Fields []Field // properties for objects

	Minimum *float64
	Maximum *float64

	// Item counts are requested from the model; a violation is a warning.
	MinItems *int64
	MaxItems *int64
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func levelNames() []string {
	names := make([]string, len(Levels))
	for i, l := range Levels {
		names[i] = string(l)
	}
	return names
}

// ResultSchema is the declared shape of Result.
var ResultSchema = Field{
	Type: TypeObject,
	Fields: []Field{
		{Name: "score", Type: TypeInteger, Required: true, Minimum: f64(0), Maximum: f64(100),
			Description: "Financial Stress Score from 0 to 100"},
		{Name: "level", Type: TypeString, Required: true,
			Enum:        levelNames(),
			Description: "Stress Level Classification"},
		{Name: "observations", Type: TypeArray, Required: true, Items: &Field{Type: TypeString},
			Description: "Bullet list of detected patterns and observations"},
		{Name: "recentChanges", Type: TypeString, Required: true,
			Description: "Short comparison vs previous behavior"},
		{Name: "importance", Type: TypeString, Required: true,
			Description: "Brief behavioral explanation of why this matters"},
		{Name: "recommendations", Type: TypeArray, Required: true, Items: &Field{Type: TypeString},
			MinItems: i64(3), MaxItems: i64(5),
			Description: "3-5 concise, supportive suggestions"},
		{Name: "transactions", Type: TypeArray, Required: true,
			Description: "A normalized list of transactions extracted from the input for visualization purposes.",
			Items: &Field{
				Type: TypeObject,
				Fields: []Field{
					{Name: "date", Type: TypeString, Required: true, Description: "Date in YYYY-MM-DD format"},
					{Name: "amount", Type: TypeNumber, Required: true, Minimum: f64(0), Description: "Transaction amount"},
					{Name: "category", Type: TypeString, Required: true, Description: "Category of expense"},
					{Name: "class", Type: TypeString, Required: true,
						Enum:        []string{string(ClassDiscretionary), string(ClassEssential)},
						Description: "Classification of the expense"},
				},
			}},
	},
}

var genaiTypes = map[FieldType]genai.Type{
	TypeString:  genai.TypeString,
	TypeNumber:  genai.TypeNumber,
	TypeInteger: genai.TypeInteger,
	TypeArray:   genai.TypeArray,
	TypeObject:  genai.TypeObject,
}

// GenAI converts the field into the structured-output schema of the Gemini API.
func (f Field) GenAI() *genai.Schema {
	s := &genai.Schema{
		Type:        genaiTypes[f.Type],
		Description: f.Description,
		Enum:        f.Enum,
		Minimum:     f.Minimum,
		Maximum:     f.Maximum,
		MinItems:    f.MinItems,
		MaxItems:    f.MaxItems,
	}
	if f.Items != nil {
		s.Items = f.Items.GenAI()
	}
	if len(f.Fields) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(f.Fields))
		for _, child := range f.Fields {
			s.Properties[child.Name] = child.GenAI()
			s.PropertyOrdering = append(s.PropertyOrdering, child.Name)
			if child.Required {
				s.Required = append(s.Required, child.Name)
			}
		}
	}
	return s
}

// Validate checks a decoded JSON value (as produced by encoding/json into
// interface{}) against the field. Hard violations return an error; soft ones
// (item counts) are returned as warnings.
func (f Field) Validate(v interface{}, path string) (warnings []string, err error) {
	if path == "" {
		path = "$"
	}

	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: got %T, want string", path, v)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return nil, fmt.Errorf("%s: %q is not one of %v", path, s, f.Enum)
		}

	case TypeNumber, TypeInteger:
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: got %T, want %s", path, v, f.Type)
		}
		if f.Type == TypeInteger && n != math.Trunc(n) {
			return nil, fmt.Errorf("%s: %v is not an integer", path, n)
		}
		if f.Minimum != nil && n < *f.Minimum {
			return nil, fmt.Errorf("%s: %v is below minimum %v", path, n, *f.Minimum)
		}
		if f.Maximum != nil && n > *f.Maximum {
			return nil, fmt.Errorf("%s: %v is above maximum %v", path, n, *f.Maximum)
		}

	case TypeArray:
		items, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: got %T, want array", path, v)
		}
		if f.MinItems != nil && int64(len(items)) < *f.MinItems ||
			f.MaxItems != nil && int64(len(items)) > *f.MaxItems {
			warnings = append(warnings, fmt.Sprintf("%s has %d items, expected %s", path, len(items), f.countRange()))
		}
		if f.Items != nil {
			for i, item := range items {
				w, err := f.Items.Validate(item, fmt.Sprintf("%s[%d]", path, i))
				if err != nil {
					return nil, err
				}
				warnings = append(warnings, w...)
			}
		}

	case TypeObject:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: got %T, want object", path, v)
		}
		for _, child := range f.Fields {
			val, present := obj[child.Name]
			if !present || val == nil {
				if child.Required {
					return nil, fmt.Errorf("%s: missing required field %q", path, child.Name)
				}
				continue
			}
			w, err := child.Validate(val, path+"."+child.Name)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, w...)
		}
	}

	return warnings, nil
}

// RequiredFields lists the required property names of an object field, sorted.
func (f Field) RequiredFields() []string {
	var names []string
	for _, child := range f.Fields {
		if child.Required {
			names = append(names, child.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (f Field) countRange() string {
	switch {
	case f.MinItems != nil && f.MaxItems != nil:
		return fmt.Sprintf("%d-%d", *f.MinItems, *f.MaxItems)
	case f.MinItems != nil:
		return fmt.Sprintf("at least %d", *f.MinItems)
	default:
		return fmt.Sprintf("at most %d", *f.MaxItems)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

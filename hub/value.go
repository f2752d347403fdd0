package hub

import (
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// EntityType identifies the kind of a hierarchy node.
type EntityType string

const (
	EntityTypeProject EntityType = "project"
	EntityTypeFolder  EntityType = "folder"
	EntityTypeTask    EntityType = "task"
	EntityTypeProduct EntityType = "product"
	EntityTypeVersion EntityType = "version"
)

// NewEntityID returns a fresh 32 character hex entity id.
func NewEntityID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NormalizeEntityID parses an id in either dashed or plain hex form and
// returns the plain 32 character form. Empty string when the id is not
// a valid UUID.
func NormalizeEntityID(id string) string {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(parsed.String(), "-", "")
}

type parentKind uint8

const (
	parentUnknown parentKind = iota
	parentNone
	parentRoot
	parentEntity
)

// ParentRef is a parent reference that distinguishes "not fetched yet",
// "detached" and "above the hierarchy root" from a concrete parent id.
type ParentRef struct {
	kind parentKind
	id   string
}

// UnknownParent marks a parent that was never resolved.
func UnknownParent() ParentRef { return ParentRef{kind: parentUnknown} }

// NoParent marks a detached entity. An entity with no parent is removed.
func NoParent() ParentRef { return ParentRef{kind: parentNone} }

// RootParent marks the position above the project entity.
func RootParent() ParentRef { return ParentRef{kind: parentRoot} }

// Parent references a concrete parent entity id.
func Parent(id string) ParentRef { return ParentRef{kind: parentEntity, id: id} }

func (p ParentRef) IsUnknown() bool { return p.kind == parentUnknown }
func (p ParentRef) IsNone() bool    { return p.kind == parentNone }
func (p ParentRef) IsRoot() bool    { return p.kind == parentRoot }

// ID returns the referenced parent id and whether one is set.
func (p ParentRef) ID() (string, bool) {
	return p.id, p.kind == parentEntity
}

// OptBool is a bool that may be unknown (not fetched).
type OptBool struct {
	known bool
	value bool
}

func UnknownBool() OptBool    { return OptBool{} }
func Bool(v bool) OptBool     { return OptBool{known: true, value: v} }
func (o OptBool) Known() bool { return o.known }

// Value returns the bool and whether it is known.
func (o OptBool) Value() (bool, bool) { return o.value, o.known }

type optState uint8

const (
	optUnknown optState = iota
	optNull
	optValue
)

// OptString is a string that may be unknown (not fetched), explicitly
// null, or set to a value.
type OptString struct {
	state optState
	value string
}

func UnknownString() OptString  { return OptString{} }
func NullString() OptString     { return OptString{state: optNull} }
func String(v string) OptString { return OptString{state: optValue, value: v} }

// StringPtr maps a nullable wire value to an OptString.
func StringPtr(v *string) OptString {
	if v == nil {
		return NullString()
	}
	return String(*v)
}

func (o OptString) Known() bool  { return o.state != optUnknown }
func (o OptString) IsNull() bool { return o.state == optNull }

// Value returns the string and whether a concrete value is set.
func (o OptString) Value() (string, bool) {
	return o.value, o.state == optValue
}

// wireValue returns the value serialized for an operation payload:
// nil for null, the string otherwise. Must not be called when unknown.
func (o OptString) wireValue() any {
	if o.state == optValue {
		return o.value
	}
	return nil
}

// deepCopy copies JSON-shaped values (maps, slices, scalars) so a
// baseline snapshot cannot alias live data.
func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out
	default:
		return value
	}
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func copyStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

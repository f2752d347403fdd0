package hub

import (
	"fmt"
	"sort"
)

// AttributeSchema describes one attribute available for an entity type.
type AttributeSchema struct {
	Type        string   `json:"type"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// AttributeValue holds one attribute value together with the copy taken
// at the last lock, so a change can be detected without extra bookkeeping
// by the caller.
type AttributeValue struct {
	value  any
	origin any
}

// NewAttributeValue seeds the value and its baseline with the same data.
func NewAttributeValue(value any) *AttributeValue {
	return &AttributeValue{
		value:  value,
		origin: deepCopy(value),
	}
}

func (a *AttributeValue) Value() any { return a.value }

func (a *AttributeValue) SetValue(value any) { a.value = value }

// Changed reports whether the value differs from the locked baseline.
func (a *AttributeValue) Changed() bool {
	return !deepEqual(a.value, a.origin)
}

// Lock re-baselines the attribute to its current value.
func (a *AttributeValue) Lock() {
	a.origin = deepCopy(a.value)
}

// Attributes is the schema-governed attribute map of one entity. Only
// keys defined by the schema for the entity's type exist; each key
// tracks its own change state.
type Attributes struct {
	values map[string]*AttributeValue
}

// NewAttributes builds the attribute set for the given schema keys,
// seeding each slot from values (nil value when the key is absent).
func NewAttributes(keys []string, values map[string]any) *Attributes {
	attrs := make(map[string]*AttributeValue, len(keys))
	for _, key := range keys {
		attrs[key] = NewAttributeValue(values[key])
	}
	return &Attributes{values: attrs}
}

// Has reports whether the attribute key is defined for the entity type.
func (a *Attributes) Has(key string) bool {
	_, ok := a.values[key]
	return ok
}

// Get returns the current value of an attribute. The second return is
// false when the key is not part of the schema.
func (a *Attributes) Get(key string) (any, bool) {
	attr, ok := a.values[key]
	if !ok {
		return nil, false
	}
	return attr.Value(), true
}

// Set changes an attribute value. Keys outside the schema are rejected.
func (a *Attributes) Set(key string, value any) error {
	attr, ok := a.values[key]
	if !ok {
		return fmt.Errorf("unknown attribute %q", key)
	}
	attr.SetValue(value)
	return nil
}

// Keys returns the schema keys in sorted order.
func (a *Attributes) Keys() []string {
	keys := make([]string, 0, len(a.values))
	for key := range a.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Attribute gives access to the underlying value object of one key.
func (a *Attributes) Attribute(key string) (*AttributeValue, bool) {
	attr, ok := a.values[key]
	return attr, ok
}

// Changes returns every attribute whose value differs from the baseline
// mapped to its current value.
func (a *Attributes) Changes() map[string]any {
	changes := map[string]any{}
	for key, attr := range a.values {
		if attr.Changed() {
			changes[key] = attr.Value()
		}
	}
	return changes
}

// Lock re-baselines all attributes.
func (a *Attributes) Lock() {
	for _, attr := range a.values {
		attr.Lock()
	}
}

// ToMap returns the attribute values with nil entries dropped, as used
// in create payloads.
func (a *Attributes) ToMap() map[string]any {
	out := map[string]any{}
	for key, attr := range a.values {
		value := attr.Value()
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

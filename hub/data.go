package hub

// EntityData wraps the freeform "data" map of an entity. Values can be
// any JSON-shaped structure; changes are computed key by key against the
// snapshot taken at the last lock.
//
// A nil value cannot be stored at a root key: deleting a key and
// assigning nil to it are indistinguishable on the wire, both serialize
// as an explicit null that tells the server to drop the key. Callers
// that need "no value" must nest it under a sub-key.
type EntityData struct {
	values map[string]any
	origin map[string]any
}

// NewEntityData wraps the given map. The map is copied for the baseline
// but kept live for current values, so the caller must hand over
// ownership.
func NewEntityData(values map[string]any) *EntityData {
	if values == nil {
		values = map[string]any{}
	}
	return &EntityData{
		values: values,
		origin: deepCopy(values).(map[string]any),
	}
}

// Get returns the value stored at key.
func (d *EntityData) Get(key string) (any, bool) {
	value, ok := d.values[key]
	return value, ok
}

// Set stores a value at a root key. A nil value removes the key.
func (d *EntityData) Set(key string, value any) {
	if value == nil {
		delete(d.values, key)
		return
	}
	d.values[key] = value
}

// Delete removes a root key.
func (d *EntityData) Delete(key string) {
	delete(d.values, key)
}

// Keys returns the current root keys.
func (d *EntityData) Keys() []string {
	keys := make([]string, 0, len(d.values))
	for key := range d.values {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of root keys.
func (d *EntityData) Len() int { return len(d.values) }

// Changes returns the diff against the locked baseline. Removed keys
// map to nil, added and modified keys map to their new value, unchanged
// keys are absent.
func (d *EntityData) Changes() map[string]any {
	keys := map[string]struct{}{}
	for key := range d.values {
		keys[key] = struct{}{}
	}
	for key := range d.origin {
		keys[key] = struct{}{}
	}
	changes := map[string]any{}
	for key := range keys {
		current, inCurrent := d.values[key]
		origin, inOrigin := d.origin[key]
		switch {
		case !inCurrent:
			changes[key] = nil
		case !inOrigin:
			changes[key] = current
		case !deepEqual(current, origin):
			changes[key] = current
		}
	}
	return changes
}

// NewEntityValue returns the data for a freshly created entity, with
// nil values dropped.
func (d *EntityData) NewEntityValue() map[string]any {
	out := map[string]any{}
	for key, value := range d.values {
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

// Lock re-baselines the data snapshot.
func (d *EntityData) Lock() {
	d.origin = deepCopy(d.values).(map[string]any)
}

package hub

import (
	"errors"
	"fmt"
)

// Entity is one node of the mirrored hierarchy. All data on a freshly
// hydrated entity is taken as the current server state; mutations are
// tracked against that baseline until Lock re-baselines it after a
// commit.
type Entity interface {
	ID() string
	EntityType() EntityType
	// ParentEntityTypes lists the entity types a parent of this entity
	// can have, used as a fetch hint.
	ParentEntityTypes() []EntityType
	ParentID() ParentRef
	Created() bool
	Removed() bool
	Attribs() *Attributes
	// Data returns the freeform data map, nil when it was not fetched.
	Data() *EntityData
	Active() OptBool
	SetActive(active bool)
	// Changes returns every field that differs from the locked
	// baseline, keyed by its server field name.
	Changes() map[string]any
	// CreateBody builds the full server payload to create the entity.
	CreateBody() (map[string]any, error)
	// Lock marks the entity as saved and re-baselines change tracking.
	Lock()

	base() *baseEntity
}

// capabilities gate the optional fields shared by entity types.
type capabilities struct {
	name      bool
	label     bool
	status    bool
	tags      bool
	thumbnail bool
}

// entitySeed carries the constructor arguments shared by all types.
type entitySeed struct {
	entityID    string
	parentID    ParentRef
	attribs     map[string]any
	data        map[string]any
	dataKnown   bool
	active      OptBool
	created     *bool
	name        string
	label       string
	status      OptString
	tags        []string
	thumbnailID OptString
}

type baseEntity struct {
	hub  *Hub
	id   string
	caps capabilities

	parentID    ParentRef
	attribs     *Attributes
	data        *EntityData
	active      OptBool
	created     bool
	childrenIDs map[string]struct{}

	name        string
	label       string
	status      OptString
	tags        []string
	thumbnailID OptString

	origParentID    ParentRef
	origActive      OptBool
	origName        string
	origLabel       string
	origStatus      OptString
	origTags        []string
	origThumbnailID OptString

	immutableCache *bool
}

func newBaseEntity(h *Hub, entityType EntityType, caps capabilities, seed entitySeed) (*baseEntity, error) {
	created := seed.entityID == ""
	if seed.created != nil {
		created = *seed.created
	}

	entityID := seed.entityID
	if entityID != "" {
		entityID = NormalizeEntityID(entityID)
	}
	if entityID == "" {
		entityID = NewEntityID()
	}

	if !created && seed.parentID.IsUnknown() {
		return nil, errors.New("existing entity is missing parent id")
	}

	keys, err := h.attributeKeysForType(entityType)
	if err != nil {
		return nil, err
	}

	var data *EntityData
	if seed.dataKnown {
		data = NewEntityData(seed.data)
	}

	var childrenIDs map[string]struct{}
	if created {
		childrenIDs = map[string]struct{}{}
	}

	b := &baseEntity{
		hub:         h,
		id:          entityID,
		caps:        caps,
		parentID:    seed.parentID,
		attribs:     NewAttributes(keys, seed.attribs),
		data:        data,
		active:      seed.active,
		created:     created,
		childrenIDs: childrenIDs,

		name:        seed.name,
		label:       seed.label,
		status:      seed.status,
		tags:        copyStrings(seed.tags),
		thumbnailID: seed.thumbnailID,

		origParentID:    seed.parentID,
		origActive:      seed.active,
		origName:        seed.name,
		origStatus:      seed.status,
		origTags:        copyStrings(seed.tags),
		origThumbnailID: seed.thumbnailID,
	}
	// The baseline label uses the same rule as change detection, so a
	// server label equal to the name never reads as a change.
	b.origLabel = b.labelValue()
	return b, nil
}

func (b *baseEntity) base() *baseEntity { return b }

func (b *baseEntity) ID() string { return b.id }

func (b *baseEntity) ParentID() ParentRef { return b.parentID }

// Removed reports whether the entity is detached from the hierarchy.
func (b *baseEntity) Removed() bool { return b.parentID.IsNone() }

func (b *baseEntity) Created() bool { return b.created }

func (b *baseEntity) Attribs() *Attributes { return b.attribs }

func (b *baseEntity) Data() *EntityData { return b.data }

func (b *baseEntity) Active() OptBool { return b.active }

func (b *baseEntity) SetActive(active bool) { b.active = Bool(active) }

// ChildrenIDs returns the materialized child id set and whether it is
// known. The set is a copy.
func (b *baseEntity) ChildrenIDs() ([]string, bool) {
	if b.childrenIDs == nil {
		return nil, false
	}
	out := make([]string, 0, len(b.childrenIDs))
	for id := range b.childrenIDs {
		out = append(out, id)
	}
	return out, true
}

func (b *baseEntity) childrenKnown() bool { return b.childrenIDs != nil }

func (b *baseEntity) addChildID(childID string) {
	if b.childrenIDs != nil {
		b.childrenIDs[childID] = struct{}{}
	}
}

func (b *baseEntity) removeChildID(childID string) {
	if b.childrenIDs != nil {
		delete(b.childrenIDs, childID)
	}
}

func (b *baseEntity) hasChildID(childID string) bool {
	if b.childrenIDs == nil {
		return false
	}
	_, ok := b.childrenIDs[childID]
	return ok
}

func (b *baseEntity) fillChildrenIDs(childIDs []string) {
	filled := make(map[string]struct{}, len(childIDs))
	for _, id := range childIDs {
		filled[id] = struct{}{}
	}
	b.childrenIDs = filled
}

// setParentRef routes a parent change through the hub so both hierarchy
// indexes stay in sync.
func (b *baseEntity) setParentRef(parent ParentRef) {
	if parent == b.parentID {
		return
	}
	orig := b.parentID
	b.parentID = parent
	b.hub.moveEntity(b.id, parent, orig)
}

// labelValue returns the label used on the wire. A label equal to the
// name counts as no explicit label.
func (b *baseEntity) labelValue() string {
	if b.label == "" || b.label == b.name {
		return ""
	}
	return b.label
}

// setStatusChecked validates the status against the project catalog and
// the entity type scope before assigning it.
func (b *baseEntity) setStatusChecked(statusName string, entityType EntityType) error {
	project := b.hub.loadedProject()
	if project == nil {
		return errors.New("project is not loaded")
	}
	status := project.StatusByAnyName(statusName)
	if status == nil {
		return fmt.Errorf("status %q is not available on project", statusName)
	}
	if !status.AvailableForEntityType(entityType) {
		return fmt.Errorf("status %q is not available for %s entities", statusName, entityType)
	}
	b.status = String(statusName)
	return nil
}

// defaultChanges collects changed fields common to all entity types.
func (b *baseEntity) defaultChanges() map[string]any {
	changes := map[string]any{}
	if b.data != nil && b.hub.allowDataChanges {
		if dataChanges := b.data.Changes(); len(dataChanges) > 0 {
			changes["data"] = dataChanges
		}
	}
	if b.origThumbnailID != b.thumbnailID {
		changes["thumbnailId"] = b.thumbnailID.wireValue()
	}
	if b.origActive != b.active {
		active, _ := b.active.Value()
		changes["active"] = active
	}
	if attribChanges := b.attribs.Changes(); len(attribChanges) > 0 {
		changes["attrib"] = attribChanges
	}
	if b.caps.name && b.origName != b.name {
		changes["name"] = b.name
	}
	if b.caps.label {
		if label := b.labelValue(); label != b.origLabel {
			if label == "" {
				changes["label"] = nil
			} else {
				changes["label"] = label
			}
		}
	}
	if b.caps.status && b.origStatus != b.status {
		status, _ := b.status.Value()
		changes["status"] = status
	}
	if b.caps.tags && !deepEqual(b.origTags, b.tags) {
		changes["tags"] = copyStrings(b.tags)
	}
	return changes
}

// lockBase re-baselines the shared fields and clears the created flag.
func (b *baseEntity) lockBase() {
	b.origParentID = b.parentID
	b.origName = b.name
	b.origThumbnailID = b.thumbnailID
	b.origActive = b.active
	if b.data != nil {
		b.data.Lock()
	}
	b.attribs.Lock()
	b.immutableCache = nil
	b.created = false

	if b.caps.label {
		b.origLabel = b.labelValue()
	}
	if b.caps.status {
		b.origStatus = b.status
	}
	if b.caps.tags {
		b.origTags = copyStrings(b.tags)
	}
}

// resetImmutableCache clears the cached immutability flag and asks the
// hub to invalidate the affected chain. bottomToTop walks ancestors,
// otherwise the subtree below.
func (b *baseEntity) resetImmutableCache(propagate bool, bottomToTop bool) {
	b.immutableCache = nil
	if propagate {
		b.hub.resetImmutableForHierarchyCache(b.id, bottomToTop)
	}
}

// createBodyExtras appends the optional fields shared by entity types
// to a create payload.
func (b *baseEntity) createBodyExtras(output map[string]any) {
	if b.caps.label {
		if label := b.labelValue(); label != "" {
			output["label"] = label
		}
	}
	if attrib := b.attribs.ToMap(); len(attrib) > 0 {
		output["attrib"] = attrib
	}
	if b.caps.tags && len(b.tags) > 0 {
		output["tags"] = copyStrings(b.tags)
	}
	if b.caps.status {
		if status, ok := b.status.Value(); ok {
			output["status"] = status
		}
	}
	if active, ok := b.active.Value(); ok {
		output["active"] = active
	}
	if b.caps.thumbnail && b.thumbnailID.Known() {
		output["thumbnailId"] = b.thumbnailID.wireValue()
	}
	if b.data != nil {
		output["data"] = b.data.NewEntityValue()
	}
}

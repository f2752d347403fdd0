package hub

import "errors"

// FolderEntity is a folder in the project hierarchy. Folders may nest
// under other folders or directly under the project root.
type FolderEntity struct {
	*baseEntity

	folderType     string
	origFolderType string

	// hasPublishedContent makes the folder immutable for hierarchy
	// changes, which propagates to all ancestors.
	hasPublishedContent bool
	path                *string
}

var folderCaps = capabilities{
	name:      true,
	label:     true,
	status:    true,
	tags:      true,
	thumbnail: true,
}

// FolderSeed are the constructor arguments of a folder entity. A zero
// EntityID mints a new id and marks the folder as created unless
// Created is set explicitly.
type FolderSeed struct {
	Name        string
	FolderType  string
	ParentID    ParentRef
	Label       string
	Path        string
	Status      OptString
	Tags        []string
	Attribs     map[string]any
	Data        map[string]any
	DataKnown   bool
	ThumbnailID OptString
	Active      OptBool
	EntityID    string
	Created     *bool
}

func newFolderEntity(h *Hub, seed FolderSeed) (*FolderEntity, error) {
	b, err := newBaseEntity(h, EntityTypeFolder, folderCaps, entitySeed{
		entityID:    seed.EntityID,
		parentID:    seed.ParentID,
		attribs:     seed.Attribs,
		data:        seed.Data,
		dataKnown:   seed.DataKnown,
		active:      seed.Active,
		created:     seed.Created,
		name:        seed.Name,
		label:       seed.Label,
		status:      seed.Status,
		tags:        seed.Tags,
		thumbnailID: seed.ThumbnailID,
	})
	if err != nil {
		return nil, err
	}
	// A just created folder without explicit parent belongs to the
	// project root.
	if b.created && b.parentID.IsUnknown() {
		b.parentID = Parent(h.projectName)
		b.origParentID = b.parentID
	}
	folder := &FolderEntity{
		baseEntity:     b,
		folderType:     seed.FolderType,
		origFolderType: seed.FolderType,
	}
	if seed.Path != "" {
		path := seed.Path
		folder.path = &path
	}
	return folder, nil
}

func folderFromPayload(h *Hub, payload FolderPayload) (*FolderEntity, error) {
	parentID := payload.ParentID
	parent := Parent(h.projectName)
	if parentID != nil {
		parent = Parent(*parentID)
	}
	persisted := false
	label := ""
	if payload.Label != nil {
		label = *payload.Label
	}
	return newFolderEntity(h, FolderSeed{
		Name:        payload.Name,
		FolderType:  payload.FolderType,
		ParentID:    parent,
		Label:       label,
		Path:        payload.Path,
		Status:      String(payload.Status),
		Tags:        payload.Tags,
		Attribs:     payload.Attrib,
		Data:        payload.Data,
		DataKnown:   payload.Data != nil,
		ThumbnailID: StringPtr(payload.ThumbnailID),
		Active:      Bool(payload.Active),
		EntityID:    payload.ID,
		Created:     &persisted,
	})
}

func (f *FolderEntity) EntityType() EntityType { return EntityTypeFolder }

func (f *FolderEntity) ParentEntityTypes() []EntityType {
	return []EntityType{EntityTypeFolder, EntityTypeProject}
}

func (f *FolderEntity) Name() string        { return f.name }
func (f *FolderEntity) SetName(name string) { f.name = name }

func (f *FolderEntity) Label() string         { return f.label }
func (f *FolderEntity) SetLabel(label string) { f.label = label }

func (f *FolderEntity) FolderType() string { return f.folderType }

func (f *FolderEntity) SetFolderType(folderType string) { f.folderType = folderType }

func (f *FolderEntity) Status() OptString { return f.status }

// SetStatus assigns a project status by name. The name is matched in
// slugified form and must be in scope for folders.
func (f *FolderEntity) SetStatus(statusName string) error {
	return f.setStatusChecked(statusName, EntityTypeFolder)
}

func (f *FolderEntity) Tags() []string        { return copyStrings(f.tags) }
func (f *FolderEntity) SetTags(tags []string) { f.tags = copyStrings(tags) }

func (f *FolderEntity) ThumbnailID() OptString { return f.thumbnailID }

func (f *FolderEntity) SetThumbnailID(thumbnailID OptString) { f.thumbnailID = thumbnailID }

// SetParentID reparents the folder under another folder or the project
// root (the project name acts as the root id).
func (f *FolderEntity) SetParentID(parentID string) {
	f.setParentRef(Parent(parentID))
}

// Path returns the slash joined ancestor names, computing and caching
// it on demand.
func (f *FolderEntity) Path() string {
	if f.path != nil {
		return *f.path
	}
	var path string
	parentID, _ := f.parentID.ID()
	if parent, ok := f.hub.Entity(parentID).(*FolderEntity); ok {
		path = parent.Path() + "/" + f.name
	} else {
		path = "/" + f.name
	}
	f.path = &path
	return path
}

// cachedPath returns the path without computing it.
func (f *FolderEntity) cachedPath() *string { return f.path }

// ResetPath clears the cached path of this folder and every descendant.
func (f *FolderEntity) ResetPath() {
	f.path = nil
	f.hub.folderPathReset(f.id)
}

func (f *FolderEntity) HasPublishedContent() bool { return f.hasPublishedContent }

// SetHasPublishedContent flips the published flag and invalidates the
// immutability cache of the ancestor chain.
func (f *FolderEntity) SetHasPublishedContent(has bool) {
	if f.hasPublishedContent == has {
		return
	}
	f.hasPublishedContent = has
	f.resetImmutableCache(true, true)
}

func (f *FolderEntity) Lock() {
	f.lockBase()
	f.origFolderType = f.folderType
}

func (f *FolderEntity) Changes() map[string]any {
	changes := f.defaultChanges()
	if f.origParentID != f.parentID {
		// A parent equal to the project root serializes as null.
		if parentID, ok := f.parentID.ID(); ok && parentID != f.hub.projectName {
			changes["parentId"] = parentID
		} else {
			changes["parentId"] = nil
		}
	}
	if f.origFolderType != f.folderType {
		changes["folderType"] = f.folderType
	}
	return changes
}

func (f *FolderEntity) CreateBody() (map[string]any, error) {
	if f.parentID.IsUnknown() {
		return nil, errors.New("folder does not have set parent id")
	}
	if f.name == "" {
		return nil, errors.New("folder does not have set name")
	}
	var parentValue any
	if parentID, ok := f.parentID.ID(); ok && parentID != f.hub.projectName {
		parentValue = parentID
	}
	output := map[string]any{
		"name":       f.name,
		"folderType": f.folderType,
		"parentId":   parentValue,
	}
	f.createBodyExtras(output)
	return output, nil
}

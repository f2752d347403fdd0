package hub

import "errors"

// VersionEntity is a numbered revision of a product. Versions have no
// name of their own; the number identifies them under the product.
type VersionEntity struct {
	*baseEntity

	version     int
	taskID      OptString
	origVersion int
	origTaskID  OptString
}

var versionCaps = capabilities{
	status:    true,
	tags:      true,
	thumbnail: true,
}

// VersionSeed are the constructor arguments of a version entity.
type VersionSeed struct {
	Version     int
	ProductID   ParentRef
	TaskID      OptString
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

func newVersionEntity(h *Hub, seed VersionSeed) (*VersionEntity, error) {
	b, err := newBaseEntity(h, EntityTypeVersion, versionCaps, entitySeed{
		entityID:    seed.EntityID,
		parentID:    seed.ProductID,
		attribs:     seed.Attribs,
		data:        seed.Data,
		dataKnown:   seed.DataKnown,
		active:      seed.Active,
		created:     seed.Created,
		status:      seed.Status,
		tags:        seed.Tags,
		thumbnailID: seed.ThumbnailID,
	})
	if err != nil {
		return nil, err
	}
	return &VersionEntity{
		baseEntity:  b,
		version:     seed.Version,
		taskID:      seed.TaskID,
		origVersion: seed.Version,
		origTaskID:  seed.TaskID,
	}, nil
}

func versionFromPayload(h *Hub, payload VersionPayload) (*VersionEntity, error) {
	persisted := false
	return newVersionEntity(h, VersionSeed{
		Version:     payload.Version,
		ProductID:   Parent(payload.ProductID),
		TaskID:      StringPtr(payload.TaskID),
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

func (v *VersionEntity) EntityType() EntityType { return EntityTypeVersion }

func (v *VersionEntity) ParentEntityTypes() []EntityType {
	return []EntityType{EntityTypeProduct}
}

func (v *VersionEntity) Version() int           { return v.version }
func (v *VersionEntity) SetVersion(version int) { v.version = version }

// ProductID returns the parent product reference.
func (v *VersionEntity) ProductID() ParentRef { return v.parentID }

// SetProductID moves the version under another product.
func (v *VersionEntity) SetProductID(productID string) {
	v.setParentRef(Parent(productID))
}

func (v *VersionEntity) TaskID() OptString { return v.taskID }

func (v *VersionEntity) SetTaskID(taskID OptString) { v.taskID = taskID }

func (v *VersionEntity) Status() OptString { return v.status }

// SetStatus assigns a project status by name, matched in slugified
// form and checked against the version scope.
func (v *VersionEntity) SetStatus(statusName string) error {
	return v.setStatusChecked(statusName, EntityTypeVersion)
}

func (v *VersionEntity) Tags() []string        { return copyStrings(v.tags) }
func (v *VersionEntity) SetTags(tags []string) { v.tags = copyStrings(tags) }

func (v *VersionEntity) ThumbnailID() OptString { return v.thumbnailID }

func (v *VersionEntity) SetThumbnailID(thumbnailID OptString) { v.thumbnailID = thumbnailID }

func (v *VersionEntity) Lock() {
	v.lockBase()
	v.origVersion = v.version
	v.origTaskID = v.taskID
}

func (v *VersionEntity) Changes() map[string]any {
	changes := v.defaultChanges()
	if v.origParentID != v.parentID {
		productID, _ := v.parentID.ID()
		changes["productId"] = productID
	}
	if v.origTaskID != v.taskID {
		changes["taskId"] = v.taskID.wireValue()
	}
	if v.origVersion != v.version {
		changes["version"] = v.version
	}
	return changes
}

func (v *VersionEntity) CreateBody() (map[string]any, error) {
	productID, ok := v.parentID.ID()
	if !ok {
		return nil, errors.New("version does not have set product id")
	}
	output := map[string]any{
		"version":   v.version,
		"productId": productID,
	}
	if taskID, ok := v.taskID.Value(); ok && taskID != "" {
		output["taskId"] = taskID
	}
	v.createBodyExtras(output)
	return output, nil
}

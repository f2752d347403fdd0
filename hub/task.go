package hub

import "errors"

// TaskEntity is a task under a folder. Tasks are leaves: they never own
// children.
type TaskEntity struct {
	*baseEntity

	taskType      string
	assignees     []string
	origTaskType  string
	origAssignees []string
}

var taskCaps = capabilities{
	name:      true,
	label:     true,
	status:    true,
	tags:      true,
	thumbnail: true,
}

// TaskSeed are the constructor arguments of a task entity.
type TaskSeed struct {
	Name        string
	TaskType    string
	FolderID    ParentRef
	Label       string
	Status      OptString
	Tags        []string
	Attribs     map[string]any
	Data        map[string]any
	DataKnown   bool
	Assignees   []string
	ThumbnailID OptString
	Active      OptBool
	EntityID    string
	Created     *bool
}

func newTaskEntity(h *Hub, seed TaskSeed) (*TaskEntity, error) {
	b, err := newBaseEntity(h, EntityTypeTask, taskCaps, entitySeed{
		entityID:    seed.EntityID,
		parentID:    seed.FolderID,
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
	// Tasks cannot have children so the set is always known.
	b.childrenIDs = map[string]struct{}{}
	return &TaskEntity{
		baseEntity:    b,
		taskType:      seed.TaskType,
		assignees:     copyStrings(seed.Assignees),
		origTaskType:  seed.TaskType,
		origAssignees: copyStrings(seed.Assignees),
	}, nil
}

func taskFromPayload(h *Hub, payload TaskPayload) (*TaskEntity, error) {
	persisted := false
	label := ""
	if payload.Label != nil {
		label = *payload.Label
	}
	return newTaskEntity(h, TaskSeed{
		Name:        payload.Name,
		TaskType:    payload.TaskType,
		FolderID:    Parent(payload.FolderID),
		Label:       label,
		Status:      String(payload.Status),
		Tags:        payload.Tags,
		Attribs:     payload.Attrib,
		Data:        payload.Data,
		DataKnown:   payload.Data != nil,
		Assignees:   payload.Assignees,
		ThumbnailID: StringPtr(payload.ThumbnailID),
		Active:      Bool(payload.Active),
		EntityID:    payload.ID,
		Created:     &persisted,
	})
}

func (t *TaskEntity) EntityType() EntityType { return EntityTypeTask }

func (t *TaskEntity) ParentEntityTypes() []EntityType {
	return []EntityType{EntityTypeFolder}
}

func (t *TaskEntity) Name() string        { return t.name }
func (t *TaskEntity) SetName(name string) { t.name = name }

func (t *TaskEntity) Label() string         { return t.label }
func (t *TaskEntity) SetLabel(label string) { t.label = label }

func (t *TaskEntity) TaskType() string { return t.taskType }

func (t *TaskEntity) SetTaskType(taskType string) { t.taskType = taskType }

// FolderID returns the parent folder reference.
func (t *TaskEntity) FolderID() ParentRef { return t.parentID }

// SetFolderID moves the task under another folder.
func (t *TaskEntity) SetFolderID(folderID string) {
	t.setParentRef(Parent(folderID))
}

func (t *TaskEntity) Status() OptString { return t.status }

// SetStatus assigns a project status by name, matched in slugified
// form and checked against the task scope.
func (t *TaskEntity) SetStatus(statusName string) error {
	return t.setStatusChecked(statusName, EntityTypeTask)
}

func (t *TaskEntity) Tags() []string        { return copyStrings(t.tags) }
func (t *TaskEntity) SetTags(tags []string) { t.tags = copyStrings(tags) }

func (t *TaskEntity) Assignees() []string { return copyStrings(t.assignees) }

func (t *TaskEntity) SetAssignees(assignees []string) {
	t.assignees = copyStrings(assignees)
}

func (t *TaskEntity) ThumbnailID() OptString { return t.thumbnailID }

func (t *TaskEntity) SetThumbnailID(thumbnailID OptString) { t.thumbnailID = thumbnailID }

func (t *TaskEntity) Lock() {
	t.lockBase()
	t.origTaskType = t.taskType
	t.origAssignees = copyStrings(t.assignees)
}

func (t *TaskEntity) Changes() map[string]any {
	changes := t.defaultChanges()
	if t.origParentID != t.parentID {
		folderID, _ := t.parentID.ID()
		changes["folderId"] = folderID
	}
	if t.origTaskType != t.taskType {
		changes["taskType"] = t.taskType
	}
	if !deepEqual(t.origAssignees, t.assignees) {
		changes["assignees"] = copyStrings(t.assignees)
	}
	return changes
}

func (t *TaskEntity) CreateBody() (map[string]any, error) {
	folderID, ok := t.parentID.ID()
	if !ok {
		return nil, errors.New("task does not have set folder id")
	}
	output := map[string]any{
		"name":     t.name,
		"taskType": t.taskType,
		"folderId": folderID,
	}
	t.createBodyExtras(output)
	if len(t.assignees) > 0 {
		output["assignees"] = copyStrings(t.assignees)
	}
	return output, nil
}

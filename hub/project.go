package hub

import "errors"

const (
	defaultFolderTypeIcon = "folder"
	defaultTaskTypeIcon   = "task_alt"
)

// ProjectEntity is the hierarchy root. Its id equals the project name,
// it cannot be reparented or deleted, and it owns the folder type, task
// type and status catalogs.
type ProjectEntity struct {
	*baseEntity

	code        string
	library     bool
	folderTypes []TypeDef
	taskTypes   []TypeDef
	statuses    *StatusList

	origFolderTypes []TypeDef
	origTaskTypes   []TypeDef
}

var projectCaps = capabilities{name: true}

func projectFromPayload(h *Hub, payload ProjectPayload) (*ProjectEntity, error) {
	if payload.Name != h.projectName {
		return nil, errors.New("project payload name does not match hub project")
	}
	persisted := false
	b, err := newBaseEntity(h, EntityTypeProject, projectCaps, entitySeed{
		entityID:  payload.Name,
		parentID:  RootParent(),
		attribs:   payload.Attrib,
		data:      payload.Data,
		dataKnown: payload.Data != nil,
		active:    Bool(payload.Active),
		created:   &persisted,
		name:      payload.Name,
	})
	if err != nil {
		return nil, err
	}
	// Project ids are names, not UUIDs; keep the name as id.
	b.id = payload.Name

	statuses, err := NewStatusList(payload.Statuses)
	if err != nil {
		return nil, err
	}
	return &ProjectEntity{
		baseEntity:      b,
		code:            payload.Code,
		library:         payload.Library,
		folderTypes:     copyTypeDefs(payload.FolderTypes),
		taskTypes:       copyTypeDefs(payload.TaskTypes),
		statuses:        statuses,
		origFolderTypes: copyTypeDefs(payload.FolderTypes),
		origTaskTypes:   copyTypeDefs(payload.TaskTypes),
	}, nil
}

func (p *ProjectEntity) EntityType() EntityType { return EntityTypeProject }

func (p *ProjectEntity) ParentEntityTypes() []EntityType { return nil }

func (p *ProjectEntity) Name() string { return p.name }

func (p *ProjectEntity) Code() string { return p.code }

func (p *ProjectEntity) Library() bool { return p.library }

// FolderTypes returns a copy of the folder type catalog.
func (p *ProjectEntity) FolderTypes() []TypeDef { return copyTypeDefs(p.folderTypes) }

// SetFolderTypes replaces the folder type catalog. Types without an
// icon get the default one.
func (p *ProjectEntity) SetFolderTypes(folderTypes []TypeDef) {
	p.folderTypes = fillTypeIcons(folderTypes, defaultFolderTypeIcon)
}

// TaskTypes returns a copy of the task type catalog.
func (p *ProjectEntity) TaskTypes() []TypeDef { return copyTypeDefs(p.taskTypes) }

// SetTaskTypes replaces the task type catalog. Types without an icon
// get the default one.
func (p *ProjectEntity) SetTaskTypes(taskTypes []TypeDef) {
	p.taskTypes = fillTypeIcons(taskTypes, defaultTaskTypeIcon)
}

// OrigFolderTypes returns the folder type catalog at the last lock.
func (p *ProjectEntity) OrigFolderTypes() []TypeDef { return copyTypeDefs(p.origFolderTypes) }

// OrigTaskTypes returns the task type catalog at the last lock.
func (p *ProjectEntity) OrigTaskTypes() []TypeDef { return copyTypeDefs(p.origTaskTypes) }

// Statuses gives access to the live status catalog.
func (p *ProjectEntity) Statuses() *StatusList { return p.statuses }

// SetStatuses replaces the whole status catalog.
func (p *ProjectEntity) SetStatuses(defs []StatusDef) error {
	return p.statuses.Set(defs)
}

// StatusByAnyName finds a status by slugified name comparison.
func (p *ProjectEntity) StatusByAnyName(name string) *Status {
	return p.statuses.GetBySlugifiedName(name)
}

func (p *ProjectEntity) Lock() {
	p.lockBase()
	p.origFolderTypes = copyTypeDefs(p.folderTypes)
	p.origTaskTypes = copyTypeDefs(p.taskTypes)
	p.statuses.Lock()
}

func (p *ProjectEntity) Changes() map[string]any {
	changes := p.defaultChanges()
	if !deepEqual(p.origFolderTypes, p.folderTypes) {
		changes["folderTypes"] = p.FolderTypes()
	}
	if !deepEqual(p.origTaskTypes, p.taskTypes) {
		changes["taskTypes"] = p.TaskTypes()
	}
	if p.statuses.Changed() {
		changes["statuses"] = p.statuses.ToDefs()
	}
	return changes
}

// CreateBody is not available: the project must already exist on the
// server.
func (p *ProjectEntity) CreateBody() (map[string]any, error) {
	return nil, errors.New("project entities cannot be created through the hub")
}

func copyTypeDefs(defs []TypeDef) []TypeDef {
	if defs == nil {
		return nil
	}
	out := make([]TypeDef, len(defs))
	copy(out, defs)
	return out
}

func fillTypeIcons(defs []TypeDef, icon string) []TypeDef {
	out := make([]TypeDef, len(defs))
	for idx, def := range defs {
		if def.Icon == "" {
			def.Icon = icon
		}
		out[idx] = def
	}
	return out
}

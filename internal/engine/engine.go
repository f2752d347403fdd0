// Package engine applies operation batches and project patches against
// the store. All writes of one batch share a single transaction.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/events"
	"trackline/internal/repo"
	"trackline/ops"
)

// Version is reported by the info endpoint. Status scope support
// arrived in 1.5.
const Version = "1.5.6"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ConflictError marks a request that contradicts the current store
// state, mapped to 409 at the API boundary.
type ConflictError struct{ Message string }

func (e ConflictError) Error() string { return e.Message }

// ValidationError marks a malformed operation, mapped to 400.
type ValidationError struct{ Message string }

func (e ValidationError) Error() string { return e.Message }

func conflictf(format string, args ...any) error {
	return ConflictError{Message: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) error {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

type typeDef struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName,omitempty"`
	Icon      string `json:"icon,omitempty"`
}

type statusDef struct {
	Name         string   `json:"name"`
	ShortName    string   `json:"shortName,omitempty"`
	State        string   `json:"state,omitempty"`
	Icon         string   `json:"icon,omitempty"`
	Color        string   `json:"color,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	OriginalName string   `json:"original_name,omitempty"`
}

// catalogs holds the decoded type and status lists of one project,
// used to validate entity writes.
type catalogs struct {
	folderTypes map[string]bool
	taskTypes   map[string]bool
	statuses    map[string]bool
	firstStatus string
}

func decodeCatalogs(p domain.Project) (catalogs, error) {
	var folderTypes, taskTypes []typeDef
	var statuses []statusDef
	if err := json.Unmarshal([]byte(p.FolderTypesJSON), &folderTypes); err != nil {
		return catalogs{}, fmt.Errorf("decode folder types: %w", err)
	}
	if err := json.Unmarshal([]byte(p.TaskTypesJSON), &taskTypes); err != nil {
		return catalogs{}, fmt.Errorf("decode task types: %w", err)
	}
	if err := json.Unmarshal([]byte(p.StatusesJSON), &statuses); err != nil {
		return catalogs{}, fmt.Errorf("decode statuses: %w", err)
	}
	c := catalogs{
		folderTypes: map[string]bool{},
		taskTypes:   map[string]bool{},
		statuses:    map[string]bool{},
	}
	for _, t := range folderTypes {
		c.folderTypes[t.Name] = true
	}
	for _, t := range taskTypes {
		c.taskTypes[t.Name] = true
	}
	for idx, s := range statuses {
		c.statuses[s.Name] = true
		if idx == 0 {
			c.firstStatus = s.Name
		}
	}
	return c, nil
}

// InitProject seeds the configured project if it does not exist yet.
func (e Engine) InitProject(ctx context.Context, actorID string) (domain.Project, error) {
	existing, err := e.Repo.GetProject(ctx, nil, e.Config.Project.Name)
	if err == nil {
		return existing, nil
	}
	if err != repo.ErrNotFound {
		return domain.Project{}, err
	}
	return e.CreateProject(ctx, e.Config.Project, actorID)
}

// CreateProject stores a new project from a seed definition.
func (e Engine) CreateProject(ctx context.Context, seed config.ProjectSeed, actorID string) (domain.Project, error) {
	if seed.Name == "" {
		return domain.Project{}, invalidf("project name is required")
	}
	folderTypes := make([]typeDef, 0, len(seed.FolderTypes))
	for _, t := range seed.FolderTypes {
		folderTypes = append(folderTypes, typeDef{Name: t.Name, ShortName: t.ShortName, Icon: t.Icon})
	}
	taskTypes := make([]typeDef, 0, len(seed.TaskTypes))
	for _, t := range seed.TaskTypes {
		taskTypes = append(taskTypes, typeDef{Name: t.Name, ShortName: t.ShortName, Icon: t.Icon})
	}
	statuses := make([]statusDef, 0, len(seed.Statuses))
	for _, s := range seed.Statuses {
		statuses = append(statuses, statusDef{
			Name: s.Name, State: s.State, Icon: s.Icon, Color: s.Color, Scope: s.Scope,
		})
	}
	attrib := seed.Attrib
	if attrib == nil {
		attrib = map[string]any{}
	}
	now := e.timestamp()
	row := domain.Project{
		Name:            seed.Name,
		Code:            seed.Code,
		Library:         seed.Library,
		FolderTypesJSON: mustJSON(folderTypes),
		TaskTypesJSON:   mustJSON(taskTypes),
		StatusesJSON:    mustJSON(statuses),
		AttribJSON:      mustJSON(attrib),
		DataJSON:        "{}",
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.Begin()
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, row); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", row.Name, "project", row.Name, actorID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return row, nil
}

// PatchProject applies a partial project update. Catalog fields replace
// wholesale; attrib and data merge per key with explicit nulls removing
// keys. Removing a folder or task type still referenced by an entity is
// a conflict; renamed statuses carry original_name and are propagated
// to entities.
func (e Engine) PatchProject(ctx context.Context, projectName string, fields map[string]any, actorID string) (domain.Project, error) {
	tx, err := e.DB.Begin()
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	project, err := e.Repo.GetProject(ctx, tx, projectName)
	if err != nil {
		return domain.Project{}, err
	}

	for key, value := range fields {
		switch key {
		case "code":
			code, ok := value.(string)
			if !ok || code == "" {
				return domain.Project{}, invalidf("code must be a non-empty string")
			}
			project.Code = code
		case "library":
			library, ok := value.(bool)
			if !ok {
				return domain.Project{}, invalidf("library must be a boolean")
			}
			project.Library = library
		case "active":
			active, ok := value.(bool)
			if !ok {
				return domain.Project{}, invalidf("active must be a boolean")
			}
			project.Active = active
		case "folderTypes":
			updated, err := e.patchTypeCatalog(ctx, tx, project, value, "folder", "folder_type")
			if err != nil {
				return domain.Project{}, err
			}
			project.FolderTypesJSON = updated
		case "taskTypes":
			updated, err := e.patchTypeCatalog(ctx, tx, project, value, "task", "task_type")
			if err != nil {
				return domain.Project{}, err
			}
			project.TaskTypesJSON = updated
		case "statuses":
			updated, err := e.patchStatuses(ctx, tx, project, value)
			if err != nil {
				return domain.Project{}, err
			}
			project.StatusesJSON = updated
		case "attrib", "ownAttrib":
			merged, err := mergeJSONColumn(project.AttribJSON, value)
			if err != nil {
				return domain.Project{}, invalidf("attrib: %v", err)
			}
			project.AttribJSON = merged
		case "data":
			merged, err := mergeJSONColumn(project.DataJSON, value)
			if err != nil {
				return domain.Project{}, invalidf("data: %v", err)
			}
			project.DataJSON = merged
		default:
			return domain.Project{}, invalidf("field %q cannot be patched on a project", key)
		}
	}

	project.UpdatedAt = e.timestamp()
	if err := e.Repo.SaveProject(ctx, tx, project); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.changed", projectName, "project", projectName, actorID,
		events.EventPayload{"fields": fieldNames(fields)}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// patchTypeCatalog replaces a type list after checking that no entity
// still references a removed type.
func (e Engine) patchTypeCatalog(ctx context.Context, tx *sql.Tx, project domain.Project, value any, entityType, column string) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", invalidf("%sTypes: %v", entityType, err)
	}
	var defs []typeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return "", invalidf("%sTypes: %v", entityType, err)
	}
	if len(defs) == 0 {
		return "", invalidf("%sTypes must keep at least one type", entityType)
	}
	kept := map[string]bool{}
	for _, def := range defs {
		if def.Name == "" {
			return "", invalidf("%sTypes contains a type without a name", entityType)
		}
		kept[def.Name] = true
	}
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT %s FROM entities WHERE project_name=? AND entity_type=? AND %s IS NOT NULL`, column, column),
		project.Name, entityType)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var used string
		if err := rows.Scan(&used); err != nil {
			return "", err
		}
		if !kept[used] {
			return "", conflictf("%s type %q is still in use", entityType, used)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return mustJSON(defs), nil
}

// patchStatuses replaces the status catalog and renames entity statuses
// for defs carrying an original_name.
func (e Engine) patchStatuses(ctx context.Context, tx *sql.Tx, project domain.Project, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", invalidf("statuses: %v", err)
	}
	var defs []statusDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return "", invalidf("statuses: %v", err)
	}
	if len(defs) == 0 {
		return "", invalidf("statuses must keep at least one status")
	}
	kept := map[string]bool{}
	for idx := range defs {
		def := &defs[idx]
		if def.Name == "" {
			return "", invalidf("statuses contains a status without a name")
		}
		if def.OriginalName != "" && def.OriginalName != def.Name {
			if _, err := tx.ExecContext(ctx,
				`UPDATE entities SET status=? WHERE project_name=? AND status=?`,
				def.Name, project.Name, def.OriginalName); err != nil {
				return "", err
			}
		}
		def.OriginalName = ""
		kept[def.Name] = true
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT status FROM entities WHERE project_name=? AND status<>''`, project.Name)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var used string
		if err := rows.Scan(&used); err != nil {
			return "", err
		}
		if !kept[used] {
			return "", conflictf("status %q is still in use", used)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return mustJSON(defs), nil
}

// ApplyOperations applies one operation batch inside a single
// transaction. With canFail unset the first failure rolls the whole
// batch back; remaining operations are reported as not applied.
func (e Engine) ApplyOperations(ctx context.Context, projectName string, operations []ops.Operation, canFail bool, actorID string) ([]ops.Result, bool, error) {
	tx, err := e.DB.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	project, err := e.Repo.GetProject(ctx, tx, projectName)
	if err != nil {
		return nil, false, err
	}
	cat, err := decodeCatalogs(project)
	if err != nil {
		return nil, false, err
	}

	results := make([]ops.Result, 0, len(operations))
	failed := false
	for _, operation := range operations {
		result := ops.Result{
			ID:       operation.ID,
			Type:     operation.Type,
			EntityID: operation.EntityID,
			Success:  true,
		}
		if failed && !canFail {
			result.Success = false
			result.ErrorMessage = "not applied, transaction rolled back"
			results = append(results, result)
			continue
		}
		if err := e.applyOperation(ctx, tx, project, cat, operation, actorID); err != nil {
			result.Success = false
			result.ErrorMessage = err.Error()
			failed = true
		}
		results = append(results, result)
	}

	if failed && !canFail {
		return results, false, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return results, !failed, nil
}

func (e Engine) applyOperation(ctx context.Context, tx *sql.Tx, project domain.Project, cat catalogs, operation ops.Operation, actorID string) error {
	if !domain.ValidEntityType(operation.EntityType) {
		return invalidf("unknown entity type %q", operation.EntityType)
	}
	switch operation.Type {
	case "create":
		return e.createEntity(ctx, tx, project, cat, operation, actorID)
	case "update":
		return e.updateEntity(ctx, tx, project, cat, operation, actorID)
	case "delete":
		return e.deleteEntity(ctx, tx, project, operation, actorID)
	default:
		return invalidf("unknown operation type %q", operation.Type)
	}
}

func (e Engine) createEntity(ctx context.Context, tx *sql.Tx, project domain.Project, cat catalogs, operation ops.Operation, actorID string) error {
	data := operation.Data
	id := stringField(data, "id")
	if id == "" {
		id = operation.EntityID
	}
	if id == "" {
		id = ops.NewID()
	}
	if _, err := e.Repo.GetEntity(ctx, tx, project.Name, id); err == nil {
		return conflictf("entity %s already exists", id)
	} else if err != repo.ErrNotFound {
		return err
	}

	now := e.timestamp()
	row := domain.Entity{
		ID:            id,
		ProjectName:   project.Name,
		EntityType:    operation.EntityType,
		Name:          stringField(data, "name"),
		Status:        stringField(data, "status"),
		TagsJSON:      mustJSON(stringSliceField(data, "tags")),
		AssigneesJSON: mustJSON(stringSliceField(data, "assignees")),
		AttribJSON:    mustJSON(compactMapField(data, "attrib")),
		DataJSON:      mustJSON(compactMapField(data, "data")),
		Label:         optStringField(data, "label"),
		ThumbnailID:   optStringField(data, "thumbnailId"),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if active, ok := data["active"].(bool); ok {
		row.Active = active
	}

	switch operation.EntityType {
	case "folder":
		if row.Name == "" {
			return invalidf("folder name is required")
		}
		folderType := stringField(data, "folderType")
		if folderType == "" || !cat.folderTypes[folderType] {
			return invalidf("unknown folder type %q", folderType)
		}
		row.FolderType = &folderType
		parentID := optStringField(data, "parentId")
		if parentID != nil {
			if err := e.requireEntity(ctx, tx, project.Name, *parentID, "folder"); err != nil {
				return err
			}
		}
		row.ParentID = parentID
	case "task":
		if row.Name == "" {
			return invalidf("task name is required")
		}
		taskType := stringField(data, "taskType")
		if taskType == "" || !cat.taskTypes[taskType] {
			return invalidf("unknown task type %q", taskType)
		}
		row.TaskType = &taskType
		folderID := stringField(data, "folderId")
		if folderID == "" {
			return invalidf("task requires a folderId")
		}
		if err := e.requireEntity(ctx, tx, project.Name, folderID, "folder"); err != nil {
			return err
		}
		row.ParentID = &folderID
	case "product":
		if row.Name == "" {
			return invalidf("product name is required")
		}
		productType := stringField(data, "productType")
		if productType == "" {
			return invalidf("product requires a productType")
		}
		row.ProductType = &productType
		folderID := stringField(data, "folderId")
		if folderID == "" {
			return invalidf("product requires a folderId")
		}
		if err := e.requireEntity(ctx, tx, project.Name, folderID, "folder"); err != nil {
			return err
		}
		row.ParentID = &folderID
	case "version":
		version, ok := intField(data, "version")
		if !ok {
			return invalidf("version requires a version number")
		}
		row.Version = &version
		productID := stringField(data, "productId")
		if productID == "" {
			return invalidf("version requires a productId")
		}
		if err := e.requireEntity(ctx, tx, project.Name, productID, "product"); err != nil {
			return err
		}
		row.ParentID = &productID
		if taskID := optStringField(data, "taskId"); taskID != nil {
			if err := e.requireEntity(ctx, tx, project.Name, *taskID, "task"); err != nil {
				return err
			}
			row.TaskID = taskID
		}
		if row.Name == "" {
			row.Name = versionName(version)
		}
	case "representation":
		if row.Name == "" {
			return invalidf("representation name is required")
		}
		versionID := stringField(data, "versionId")
		if versionID == "" {
			return invalidf("representation requires a versionId")
		}
		if err := e.requireEntity(ctx, tx, project.Name, versionID, "version"); err != nil {
			return err
		}
		row.ParentID = &versionID
	case "workfile":
		path := stringField(data, "path")
		if path == "" {
			return invalidf("workfile requires a path")
		}
		row.Name = path
		taskID := stringField(data, "taskId")
		if taskID == "" {
			return invalidf("workfile requires a taskId")
		}
		if err := e.requireEntity(ctx, tx, project.Name, taskID, "task"); err != nil {
			return err
		}
		row.ParentID = &taskID
	}

	if row.Status == "" {
		row.Status = cat.firstStatus
	} else if !cat.statuses[row.Status] {
		return invalidf("unknown status %q", row.Status)
	}

	if operation.EntityType == "folder" || operation.EntityType == "task" {
		taken, err := e.Repo.SiblingNameExists(ctx, tx, project.Name, operation.EntityType, row.ParentID, row.Name, row.ID)
		if err != nil {
			return err
		}
		if taken {
			return conflictf("%s name %q is already used by a sibling", operation.EntityType, row.Name)
		}
	}

	if err := e.Repo.InsertEntity(ctx, tx, row); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "entity.created", project.Name, operation.EntityType, row.ID, actorID,
		events.EventPayload{"name": row.Name})
}

func (e Engine) updateEntity(ctx context.Context, tx *sql.Tx, project domain.Project, cat catalogs, operation ops.Operation, actorID string) error {
	row, err := e.Repo.GetEntity(ctx, tx, project.Name, operation.EntityID)
	if err == repo.ErrNotFound {
		return conflictf("entity %s does not exist", operation.EntityID)
	}
	if err != nil {
		return err
	}
	if row.EntityType != operation.EntityType {
		return invalidf("entity %s is a %s, not a %s", row.ID, row.EntityType, operation.EntityType)
	}

	for key, value := range operation.Data {
		switch key {
		case "name":
			name, ok := value.(string)
			if !ok || name == "" {
				return invalidf("name must be a non-empty string")
			}
			row.Name = name
		case "label":
			label, err := optStringValue(value)
			if err != nil {
				return invalidf("label: %v", err)
			}
			row.Label = label
		case "folderType":
			if row.EntityType != "folder" {
				return invalidf("folderType only applies to folders")
			}
			folderType, _ := value.(string)
			if !cat.folderTypes[folderType] {
				return invalidf("unknown folder type %q", folderType)
			}
			row.FolderType = &folderType
		case "taskType":
			if row.EntityType != "task" {
				return invalidf("taskType only applies to tasks")
			}
			taskType, _ := value.(string)
			if !cat.taskTypes[taskType] {
				return invalidf("unknown task type %q", taskType)
			}
			row.TaskType = &taskType
		case "productType":
			productType, ok := value.(string)
			if !ok || productType == "" {
				return invalidf("productType must be a non-empty string")
			}
			row.ProductType = &productType
		case "parentId":
			if row.EntityType != "folder" {
				return invalidf("parentId only applies to folders")
			}
			parentID, err := optStringValue(value)
			if err != nil {
				return invalidf("parentId: %v", err)
			}
			if parentID != nil {
				if *parentID == row.ID {
					return invalidf("folder cannot parent itself")
				}
				if err := e.requireEntity(ctx, tx, project.Name, *parentID, "folder"); err != nil {
					return err
				}
			}
			row.ParentID = parentID
		case "folderId":
			if row.EntityType != "task" && row.EntityType != "product" {
				return invalidf("folderId only applies to tasks and products")
			}
			folderID, _ := value.(string)
			if folderID == "" {
				return invalidf("folderId must be a non-empty string")
			}
			if err := e.requireEntity(ctx, tx, project.Name, folderID, "folder"); err != nil {
				return err
			}
			row.ParentID = &folderID
		case "productId":
			if row.EntityType != "version" {
				return invalidf("productId only applies to versions")
			}
			productID, _ := value.(string)
			if productID == "" {
				return invalidf("productId must be a non-empty string")
			}
			if err := e.requireEntity(ctx, tx, project.Name, productID, "product"); err != nil {
				return err
			}
			row.ParentID = &productID
		case "versionId":
			if row.EntityType != "representation" {
				return invalidf("versionId only applies to representations")
			}
			versionID, _ := value.(string)
			if versionID == "" {
				return invalidf("versionId must be a non-empty string")
			}
			if err := e.requireEntity(ctx, tx, project.Name, versionID, "version"); err != nil {
				return err
			}
			row.ParentID = &versionID
		case "taskId":
			taskID, err := optStringValue(value)
			if err != nil {
				return invalidf("taskId: %v", err)
			}
			if taskID != nil {
				if err := e.requireEntity(ctx, tx, project.Name, *taskID, "task"); err != nil {
					return err
				}
			}
			if row.EntityType == "workfile" {
				if taskID == nil {
					return invalidf("workfile requires a taskId")
				}
				row.ParentID = taskID
			} else {
				row.TaskID = taskID
			}
		case "version":
			version, ok := intValue(value)
			if !ok {
				return invalidf("version must be an integer")
			}
			row.Version = &version
		case "status":
			status, _ := value.(string)
			if !cat.statuses[status] {
				return invalidf("unknown status %q", status)
			}
			row.Status = status
		case "tags":
			tags, err := stringSliceValue(value)
			if err != nil {
				return invalidf("tags: %v", err)
			}
			row.TagsJSON = mustJSON(tags)
		case "assignees":
			if row.EntityType != "task" {
				return invalidf("assignees only apply to tasks")
			}
			assignees, err := stringSliceValue(value)
			if err != nil {
				return invalidf("assignees: %v", err)
			}
			row.AssigneesJSON = mustJSON(assignees)
		case "attrib", "ownAttrib":
			merged, err := mergeJSONColumn(row.AttribJSON, value)
			if err != nil {
				return invalidf("attrib: %v", err)
			}
			row.AttribJSON = merged
		case "data":
			merged, err := mergeJSONColumn(row.DataJSON, value)
			if err != nil {
				return invalidf("data: %v", err)
			}
			row.DataJSON = merged
		case "thumbnailId":
			thumbnailID, err := optStringValue(value)
			if err != nil {
				return invalidf("thumbnailId: %v", err)
			}
			row.ThumbnailID = thumbnailID
		case "active":
			active, ok := value.(bool)
			if !ok {
				return invalidf("active must be a boolean")
			}
			row.Active = active
		case "path":
			if row.EntityType != "workfile" {
				return invalidf("path only applies to workfiles")
			}
			path, _ := value.(string)
			if path == "" {
				return invalidf("path must be a non-empty string")
			}
			row.Name = path
		default:
			return invalidf("field %q cannot be patched on a %s", key, row.EntityType)
		}
	}

	row.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateEntity(ctx, tx, row); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "entity.updated", project.Name, row.EntityType, row.ID, actorID,
		events.EventPayload{"fields": fieldNames(operation.Data)})
}

func (e Engine) deleteEntity(ctx context.Context, tx *sql.Tx, project domain.Project, operation ops.Operation, actorID string) error {
	row, err := e.Repo.GetEntity(ctx, tx, project.Name, operation.EntityID)
	if err == repo.ErrNotFound {
		return conflictf("entity %s does not exist", operation.EntityID)
	}
	if err != nil {
		return err
	}
	if row.EntityType != operation.EntityType {
		return invalidf("entity %s is a %s, not a %s", row.ID, row.EntityType, operation.EntityType)
	}
	children, err := e.Repo.CountChildren(ctx, tx, project.Name, row.ID)
	if err != nil {
		return err
	}
	if children > 0 {
		return conflictf("entity %s still has %d children", row.ID, children)
	}
	if err := e.Repo.DeleteEntity(ctx, tx, project.Name, row.ID); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "entity.deleted", project.Name, row.EntityType, row.ID, actorID,
		events.EventPayload{"name": row.Name})
}

func (e Engine) requireEntity(ctx context.Context, tx *sql.Tx, projectName, id, entityType string) error {
	row, err := e.Repo.GetEntity(ctx, tx, projectName, id)
	if err == repo.ErrNotFound {
		return conflictf("%s %s does not exist", entityType, id)
	}
	if err != nil {
		return err
	}
	if row.EntityType != entityType {
		return conflictf("entity %s is a %s, not a %s", id, row.EntityType, entityType)
	}
	return nil
}

// FolderView is a folder row enriched with its computed path and
// product ownership, the read shape of folder listings.
type FolderView struct {
	Entity      domain.Entity
	Path        string
	HasProducts bool
}

// ListFolders lists folders, optionally narrowed to children of the
// given parents. The project name stands in for the root parent.
func (e Engine) ListFolders(ctx context.Context, projectName string, parentIDs []string) ([]FolderView, error) {
	filters := repo.EntityFilters{ProjectName: projectName, EntityType: "folder"}
	for _, parentID := range parentIDs {
		if parentID == projectName || parentID == "" {
			filters.RootParent = true
			continue
		}
		filters.ParentIDs = append(filters.ParentIDs, parentID)
	}
	rows, err := e.Repo.ListEntities(ctx, filters)
	if err != nil {
		return nil, err
	}
	return e.folderViews(ctx, projectName, rows)
}

// FolderViewByID fetches one folder with its computed path.
func (e Engine) FolderViewByID(ctx context.Context, projectName, id string) (FolderView, error) {
	row, err := e.Repo.GetEntity(ctx, nil, projectName, id)
	if err != nil {
		return FolderView{}, err
	}
	if row.EntityType != "folder" {
		return FolderView{}, repo.ErrNotFound
	}
	views, err := e.folderViews(ctx, projectName, []domain.Entity{row})
	if err != nil {
		return FolderView{}, err
	}
	return views[0], nil
}

func (e Engine) folderViews(ctx context.Context, projectName string, rows []domain.Entity) ([]FolderView, error) {
	refs, err := e.Repo.FolderRefs(ctx, projectName)
	if err != nil {
		return nil, err
	}
	withProducts, err := e.Repo.FoldersWithProducts(ctx, projectName)
	if err != nil {
		return nil, err
	}
	paths := folderPaths(refs)
	views := make([]FolderView, 0, len(rows))
	for _, row := range rows {
		views = append(views, FolderView{
			Entity:      row,
			Path:        paths[row.ID],
			HasProducts: withProducts[row.ID],
		})
	}
	return views, nil
}

// folderPaths assembles the /parent/child path of every folder. The
// depth guard stops runaway recursion on a corrupted parent cycle.
func folderPaths(refs []repo.FolderRef) map[string]string {
	byID := make(map[string]repo.FolderRef, len(refs))
	for _, ref := range refs {
		byID[ref.ID] = ref
	}
	paths := make(map[string]string, len(refs))
	var resolve func(id string, depth int) string
	resolve = func(id string, depth int) string {
		if path, ok := paths[id]; ok {
			return path
		}
		ref, ok := byID[id]
		if !ok || depth > len(refs) {
			return ""
		}
		path := "/" + ref.Name
		if ref.ParentID != nil {
			path = resolve(*ref.ParentID, depth+1) + path
		}
		paths[id] = path
		return path
	}
	for _, ref := range refs {
		resolve(ref.ID, 0)
	}
	return paths
}

// ListTasks lists tasks, optionally narrowed to folders.
func (e Engine) ListTasks(ctx context.Context, projectName string, folderIDs []string) ([]domain.Entity, error) {
	return e.Repo.ListEntities(ctx, repo.EntityFilters{
		ProjectName: projectName,
		EntityType:  "task",
		ParentIDs:   folderIDs,
	})
}

// GetEntityOfType fetches one entity and checks its kind.
func (e Engine) GetEntityOfType(ctx context.Context, projectName, id, entityType string) (domain.Entity, error) {
	row, err := e.Repo.GetEntity(ctx, nil, projectName, id)
	if err != nil {
		return domain.Entity{}, err
	}
	if row.EntityType != entityType {
		return domain.Entity{}, repo.ErrNotFound
	}
	return row, nil
}

func versionName(version int) string {
	if version < 0 {
		return fmt.Sprintf("HERO_v%03d", -version)
	}
	return fmt.Sprintf("v%03d", version)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func fieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// optStringField distinguishes an absent key from an explicit null;
// both map to nil, a string maps to its pointer.
func optStringField(m map[string]any, key string) *string {
	value, ok := m[key]
	if !ok || value == nil {
		return nil
	}
	if s, ok := value.(string); ok {
		return &s
	}
	return nil
}

func optStringValue(value any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("must be a string or null")
	}
	return &s, nil
}

func intField(m map[string]any, key string) (int, bool) {
	return intValue(m[key])
}

func intValue(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringSliceField(m map[string]any, key string) []string {
	out, err := stringSliceValue(m[key])
	if err != nil {
		return []string{}
	}
	return out
}

func stringSliceValue(value any) ([]string, error) {
	switch items := value.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("must be a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a list of strings")
	}
}

// compactMapField reads a map field with nil values dropped, the shape
// stored for create payloads.
func compactMapField(m map[string]any, key string) map[string]any {
	out := map[string]any{}
	values, _ := m[key].(map[string]any)
	for k, v := range values {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// mergeJSONColumn merges a patch map into a stored JSON document.
// Explicit nulls remove keys.
func mergeJSONColumn(stored string, value any) (string, error) {
	patch, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("must be an object")
	}
	current := map[string]any{}
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &current); err != nil {
			return "", err
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return mustJSON(current), nil
}

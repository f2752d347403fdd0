package hub

import (
	"context"

	"trackline/ops"
)

// TypeDef is one folder or task type definition of a project.
type TypeDef struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName,omitempty"`
	Icon      string `json:"icon,omitempty"`
}

// ServerVersion is the reported version of the remote server.
type ServerVersion struct {
	Major int
	Minor int
	Patch int
}

// AtLeast reports whether the version is >= major.minor.
func (v ServerVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// ProjectPayload is the wire shape of a project entity.
type ProjectPayload struct {
	Name        string         `json:"name"`
	Code        string         `json:"code"`
	Library     bool           `json:"library"`
	FolderTypes []TypeDef      `json:"folderTypes"`
	TaskTypes   []TypeDef      `json:"taskTypes"`
	Statuses    []StatusDef    `json:"statuses"`
	Attrib      map[string]any `json:"ownAttrib"`
	Data        map[string]any `json:"data,omitempty"`
	Active      bool           `json:"active"`
}

// FolderPayload is the wire shape of a folder entity.
type FolderPayload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Label       *string        `json:"label"`
	FolderType  string         `json:"folderType"`
	ParentID    *string        `json:"parentId"`
	Path        string         `json:"path,omitempty"`
	Status      string         `json:"status"`
	Tags        []string       `json:"tags"`
	Attrib      map[string]any `json:"ownAttrib"`
	Data        map[string]any `json:"data,omitempty"`
	ThumbnailID *string        `json:"thumbnailId"`
	Active      bool           `json:"active"`
	HasProducts bool           `json:"hasProducts"`
}

// TaskPayload is the wire shape of a task entity.
type TaskPayload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Label       *string        `json:"label"`
	TaskType    string         `json:"taskType"`
	FolderID    string         `json:"folderId"`
	Status      string         `json:"status"`
	Tags        []string       `json:"tags"`
	Assignees   []string       `json:"assignees"`
	Attrib      map[string]any `json:"ownAttrib"`
	Data        map[string]any `json:"data,omitempty"`
	ThumbnailID *string        `json:"thumbnailId"`
	Active      bool           `json:"active"`
}

// ProductPayload is the wire shape of a product entity.
type ProductPayload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ProductType string         `json:"productType"`
	FolderID    string         `json:"folderId"`
	Tags        []string       `json:"tags"`
	Attrib      map[string]any `json:"attrib"`
	Data        map[string]any `json:"data,omitempty"`
	Active      bool           `json:"active"`
}

// VersionPayload is the wire shape of a version entity.
type VersionPayload struct {
	ID          string         `json:"id"`
	Version     int            `json:"version"`
	ProductID   string         `json:"productId"`
	TaskID      *string        `json:"taskId"`
	Status      string         `json:"status"`
	Tags        []string       `json:"tags"`
	Attrib      map[string]any `json:"attrib"`
	Data        map[string]any `json:"data,omitempty"`
	ThumbnailID *string        `json:"thumbnailId"`
	Active      bool           `json:"active"`
}

// Connection is the narrow server capability the hub depends on. The
// HTTP implementation lives in the client package; tests provide fakes.
type Connection interface {
	// GetProject returns the project payload or nil when the project
	// does not exist.
	GetProject(ctx context.Context, projectName string) (*ProjectPayload, error)

	// GetFolders lists folders, optionally filtered by parent folder
	// ids. Empty parentIDs lists the whole project. Folders directly
	// under the project root carry a nil parent id.
	GetFolders(ctx context.Context, projectName string, parentIDs []string, fields []string) ([]FolderPayload, error)

	// GetTasks lists tasks, optionally filtered by folder ids.
	GetTasks(ctx context.Context, projectName string, folderIDs []string, fields []string) ([]TaskPayload, error)

	// Per-id getters return nil when the entity does not exist.
	GetFolderByID(ctx context.Context, projectName, folderID string, fields []string) (*FolderPayload, error)
	GetTaskByID(ctx context.Context, projectName, taskID string, fields []string) (*TaskPayload, error)
	GetProductByID(ctx context.Context, projectName, productID string, fields []string) (*ProductPayload, error)
	GetVersionByID(ctx context.Context, projectName, versionID string, fields []string) (*VersionPayload, error)

	// AttributesForType returns the attribute schema applicable to the
	// entity type.
	AttributesForType(ctx context.Context, entityType EntityType) (map[string]AttributeSchema, error)

	// DefaultFieldsForType returns the field names fetched by default
	// for the entity type.
	DefaultFieldsForType(entityType EntityType) []string

	// ServerVersion reports the remote server version.
	ServerVersion(ctx context.Context) (ServerVersion, error)

	// SendOperations sends one transactional operation batch.
	SendOperations(ctx context.Context, projectName string, operations []ops.Operation, canFail bool) ([]ops.Result, error)

	// UpdateProject patches project level fields.
	UpdateProject(ctx context.Context, projectName string, fields map[string]any) error
}

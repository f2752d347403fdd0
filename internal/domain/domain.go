// Package domain holds the storage row shapes of the sandbox server.
// Columns carrying JSON documents keep the raw text; decoding happens
// at the API boundary.
package domain

// EntityTypes lists every hierarchy entity kind the server stores.
var EntityTypes = []string{
	"folder", "task", "product", "version", "representation", "workfile",
}

// ValidEntityType reports whether t names a storable entity kind.
func ValidEntityType(t string) bool {
	for _, known := range EntityTypes {
		if known == t {
			return true
		}
	}
	return false
}

type Project struct {
	Name            string `json:"name"`
	Code            string `json:"code"`
	Library         bool   `json:"library"`
	FolderTypesJSON string `json:"folder_types_json"`
	TaskTypesJSON   string `json:"task_types_json"`
	StatusesJSON    string `json:"statuses_json"`
	AttribJSON      string `json:"attrib_json"`
	DataJSON        string `json:"data_json"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

// Entity is one row of the unified hierarchy table. ParentID points at
// the structural parent: the parent folder for folders, the folder for
// tasks and products, the product for versions, the version for
// representations and the task for workfiles. Versions additionally
// reference their authoring task through TaskID.
type Entity struct {
	ID            string  `json:"id"`
	ProjectName   string  `json:"project_name"`
	EntityType    string  `json:"entity_type" enum:"folder,task,product,version,representation,workfile"`
	ParentID      *string `json:"parent_id,omitempty"`
	Name          string  `json:"name"`
	Label         *string `json:"label,omitempty"`
	FolderType    *string `json:"folder_type,omitempty"`
	TaskType      *string `json:"task_type,omitempty"`
	ProductType   *string `json:"product_type,omitempty"`
	Version       *int    `json:"version,omitempty"`
	TaskID        *string `json:"task_id,omitempty"`
	Status        string  `json:"status"`
	TagsJSON      string  `json:"tags_json"`
	AssigneesJSON string  `json:"assignees_json"`
	AttribJSON    string  `json:"attrib_json"`
	DataJSON      string  `json:"data_json"`
	ThumbnailID   *string `json:"thumbnail_id,omitempty"`
	Active        bool    `json:"active"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	ProjectName string `json:"project_name,omitempty"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Package ops accumulates create, update and delete operations and
// sends them to the server as transactional batches.
package ops

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Operation is the wire body of one batched operation. Data is omitted
// for deletes.
type Operation struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Data       map[string]any `json:"data,omitempty"`
}

// Result is the per-operation outcome reported by the server.
type Result struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type,omitempty"`
	EntityID     string `json:"entityId,omitempty"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Sender is the transport capability the session depends on.
type Sender interface {
	SendOperations(ctx context.Context, projectName string, operations []Operation, canFail bool) ([]Result, error)
}

type removedField struct{}

// RemovedValue marks a key for removal in update payloads. Only root
// keys of the update map are inspected.
var RemovedValue any = removedField{}

// NewID returns a fresh 32 character hex entity id.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func newOperationID() string {
	return uuid.New().String()
}

// SessionOperation is one pending operation inside a session.
type SessionOperation interface {
	// ID identifies the operation itself, used for nesting dependents.
	ID() string
	ProjectName() string
	EntityType() string
	EntityID() string
	// Body serializes the operation. ok is false when the operation
	// carries nothing to send (an empty update).
	Body() (body Operation, ok bool)
}

// CreateOperation creates one entity. The payload map is owned by the
// operation; an id is minted when the payload has none.
type CreateOperation struct {
	id          string
	projectName string
	entityType  string
	data        map[string]any
}

func NewCreateOperation(projectName, entityType string, data map[string]any) *CreateOperation {
	payload := map[string]any{}
	for key, value := range data {
		payload[key] = value
	}
	if _, ok := payload["id"]; !ok {
		payload["id"] = NewID()
	}
	return &CreateOperation{
		id:          newOperationID(),
		projectName: projectName,
		entityType:  entityType,
		data:        payload,
	}
}

func (o *CreateOperation) ID() string          { return o.id }
func (o *CreateOperation) ProjectName() string { return o.projectName }
func (o *CreateOperation) EntityType() string  { return o.entityType }

func (o *CreateOperation) EntityID() string {
	id, _ := o.data["id"].(string)
	return id
}

// SetValue changes one payload field before commit.
func (o *CreateOperation) SetValue(key string, value any) {
	o.data[key] = value
}

// Value reads one payload field.
func (o *CreateOperation) Value(key string) (any, bool) {
	value, ok := o.data[key]
	return value, ok
}

func (o *CreateOperation) Body() (Operation, bool) {
	return Operation{
		ID:         o.id,
		Type:       "create",
		EntityType: o.entityType,
		EntityID:   o.EntityID(),
		Data:       o.data,
	}, true
}

// UpdateOperation patches fields of one entity. Values equal to
// RemovedValue serialize as explicit nulls.
type UpdateOperation struct {
	id          string
	projectName string
	entityType  string
	entityID    string
	update      map[string]any
}

func NewUpdateOperation(projectName, entityType, entityID string, update map[string]any) *UpdateOperation {
	return &UpdateOperation{
		id:          newOperationID(),
		projectName: projectName,
		entityType:  entityType,
		entityID:    entityID,
		update:      update,
	}
}

func (o *UpdateOperation) ID() string          { return o.id }
func (o *UpdateOperation) ProjectName() string { return o.projectName }
func (o *UpdateOperation) EntityType() string  { return o.entityType }
func (o *UpdateOperation) EntityID() string    { return o.entityID }

// UpdateData returns the patch with removal markers mapped to nil.
func (o *UpdateOperation) UpdateData() map[string]any {
	out := make(map[string]any, len(o.update))
	for key, value := range o.update {
		if _, removed := value.(removedField); removed {
			value = nil
		}
		out[key] = value
	}
	return out
}

func (o *UpdateOperation) Body() (Operation, bool) {
	if len(o.update) == 0 {
		return Operation{}, false
	}
	return Operation{
		ID:         o.id,
		Type:       "update",
		EntityType: o.entityType,
		EntityID:   o.entityID,
		Data:       o.UpdateData(),
	}, true
}

// DeleteOperation removes one entity.
type DeleteOperation struct {
	id          string
	projectName string
	entityType  string
	entityID    string
}

func NewDeleteOperation(projectName, entityType, entityID string) *DeleteOperation {
	return &DeleteOperation{
		id:          newOperationID(),
		projectName: projectName,
		entityType:  entityType,
		entityID:    entityID,
	}
}

func (o *DeleteOperation) ID() string          { return o.id }
func (o *DeleteOperation) ProjectName() string { return o.projectName }
func (o *DeleteOperation) EntityType() string  { return o.entityType }
func (o *DeleteOperation) EntityID() string    { return o.entityID }

func (o *DeleteOperation) Body() (Operation, bool) {
	return Operation{
		ID:         o.id,
		Type:       "delete",
		EntityType: o.entityType,
		EntityID:   o.entityID,
	}, true
}

package ops

import (
	"context"
	"fmt"
)

// Session accumulates operations and commits them as one batch per
// project. Operations are sent in insertion order; the session does no
// dependency analysis beyond the explicit nesting mechanism.
//
// A nested operation is parked under the id of another operation and
// only enters the list right after its parent is added. That gives
// callers a manual way to keep an entity create ahead of operations
// referencing it.
type Session struct {
	sender     Sender
	operations []SessionOperation
	nested     map[string][]SessionOperation
}

func NewSession(sender Sender) *Session {
	return &Session{
		sender: sender,
		nested: map[string][]SessionOperation{},
	}
}

func (s *Session) Len() int { return len(s.operations) }

// Operations returns the pending operations in order.
func (s *Session) Operations() []SessionOperation {
	out := make([]SessionOperation, len(s.operations))
	copy(out, s.operations)
	return out
}

// Add appends an operation and releases any dependents parked under its
// id, recursively.
func (s *Session) Add(operation SessionOperation) {
	s.operations = append(s.operations, operation)
	dependents := s.nested[operation.ID()]
	delete(s.nested, operation.ID())
	for _, dependent := range dependents {
		s.Add(dependent)
	}
}

// AddNested parks an operation until the operation with parentID is
// added.
func (s *Session) AddNested(operation SessionOperation, parentID string) {
	s.nested[parentID] = append(s.nested[parentID], operation)
}

// Remove drops a pending operation.
func (s *Session) Remove(operation SessionOperation) {
	for idx, pending := range s.operations {
		if pending == operation {
			s.operations = append(s.operations[:idx], s.operations[idx+1:]...)
			return
		}
	}
}

// Clear drops all pending and parked operations.
func (s *Session) Clear() {
	s.operations = nil
	s.nested = map[string][]SessionOperation{}
}

// Commit sends one batch per project, in the order projects first
// appear in the session. Pending operations are consumed even when the
// send fails; parked operations that never found their parent are an
// error.
func (s *Session) Commit(ctx context.Context) error {
	if len(s.nested) > 0 {
		count := 0
		for _, parked := range s.nested {
			count += len(parked)
		}
		return fmt.Errorf("%d nested operations were never released", count)
	}
	operations := s.operations
	s.operations = nil
	if len(operations) == 0 {
		return nil
	}

	var projectOrder []string
	byProject := map[string][]Operation{}
	for _, operation := range operations {
		body, ok := operation.Body()
		if !ok {
			continue
		}
		project := operation.ProjectName()
		if _, seen := byProject[project]; !seen {
			projectOrder = append(projectOrder, project)
		}
		byProject[project] = append(byProject[project], body)
	}

	for _, project := range projectOrder {
		if _, err := s.sender.SendOperations(ctx, project, byProject[project], false); err != nil {
			return fmt.Errorf("commit operations for project %q: %w", project, err)
		}
	}
	return nil
}

// CreateEntity registers a create operation. nestedUnder may name the
// id of another operation this one must directly follow; empty means
// append now.
func (s *Session) CreateEntity(projectName, entityType string, data map[string]any, nestedUnder string) *CreateOperation {
	operation := NewCreateOperation(projectName, entityType, data)
	if nestedUnder != "" {
		s.AddNested(operation, nestedUnder)
	} else {
		s.Add(operation)
	}
	return operation
}

// UpdateEntity registers an update operation.
func (s *Session) UpdateEntity(projectName, entityType, entityID string, update map[string]any, nestedUnder string) *UpdateOperation {
	operation := NewUpdateOperation(projectName, entityType, entityID, update)
	if nestedUnder != "" {
		s.AddNested(operation, nestedUnder)
	} else {
		s.Add(operation)
	}
	return operation
}

// DeleteEntity registers a delete operation.
func (s *Session) DeleteEntity(projectName, entityType, entityID string, nestedUnder string) *DeleteOperation {
	operation := NewDeleteOperation(projectName, entityType, entityID)
	if nestedUnder != "" {
		s.AddNested(operation, nestedUnder)
	} else {
		s.Add(operation)
	}
	return operation
}

// CreateFolder registers a folder create built from a skeleton payload.
func (s *Session) CreateFolder(projectName string, data FolderData) *CreateOperation {
	return s.CreateEntity(projectName, "folder", NewFolderData(data), "")
}

// CreateTask registers a task create built from a skeleton payload.
func (s *Session) CreateTask(projectName string, data TaskData) *CreateOperation {
	return s.CreateEntity(projectName, "task", NewTaskData(data), "")
}

// CreateProduct registers a product create built from a skeleton payload.
func (s *Session) CreateProduct(projectName string, data ProductData) *CreateOperation {
	return s.CreateEntity(projectName, "product", NewProductData(data), "")
}

// CreateVersion registers a version create built from a skeleton payload.
func (s *Session) CreateVersion(projectName string, data VersionData) *CreateOperation {
	return s.CreateEntity(projectName, "version", NewVersionData(data), "")
}

// UpdateFolder registers a folder update.
func (s *Session) UpdateFolder(projectName, folderID string, update map[string]any) *UpdateOperation {
	return s.UpdateEntity(projectName, "folder", folderID, update, "")
}

// UpdateTask registers a task update.
func (s *Session) UpdateTask(projectName, taskID string, update map[string]any) *UpdateOperation {
	return s.UpdateEntity(projectName, "task", taskID, update, "")
}

// UpdateProduct registers a product update.
func (s *Session) UpdateProduct(projectName, productID string, update map[string]any) *UpdateOperation {
	return s.UpdateEntity(projectName, "product", productID, update, "")
}

// UpdateVersion registers a version update.
func (s *Session) UpdateVersion(projectName, versionID string, update map[string]any) *UpdateOperation {
	return s.UpdateEntity(projectName, "version", versionID, update, "")
}

// DeleteFolder registers a folder delete.
func (s *Session) DeleteFolder(projectName, folderID string) *DeleteOperation {
	return s.DeleteEntity(projectName, "folder", folderID, "")
}

// DeleteTask registers a task delete.
func (s *Session) DeleteTask(projectName, taskID string) *DeleteOperation {
	return s.DeleteEntity(projectName, "task", taskID, "")
}

// DeleteProduct registers a product delete.
func (s *Session) DeleteProduct(projectName, productID string) *DeleteOperation {
	return s.DeleteEntity(projectName, "product", productID, "")
}

// DeleteVersion registers a version delete.
func (s *Session) DeleteVersion(projectName, versionID string) *DeleteOperation {
	return s.DeleteEntity(projectName, "version", versionID, "")
}

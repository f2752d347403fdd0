package hub

import (
	"context"
	"fmt"

	"trackline/ops"
)

// CommitChanges pushes every tracked change to the server as one
// operation batch. Project level changes are patched first so new
// folder and task types exist before entities referencing them, then
// entity operations are sent, then type removals deferred by
// preCommitProject are applied. All surviving entities are locked.
func (h *Hub) CommitChanges(ctx context.Context) error {
	project, err := h.Project(ctx)
	if err != nil {
		return err
	}

	postProjectChanges, err := h.preCommitProject(ctx, project)
	if err != nil {
		return err
	}

	operations, err := h.buildOperations()
	if err != nil {
		return err
	}
	if len(operations) > 0 {
		results, err := h.conn.SendOperations(ctx, h.projectName, operations, false)
		if err != nil {
			return err
		}
		for _, result := range results {
			if !result.Success {
				return fmt.Errorf(
					"%s of %s failed: %s",
					result.Type, result.EntityID, result.ErrorMessage,
				)
			}
		}
	}

	if len(postProjectChanges) > 0 {
		if err := h.conn.UpdateProject(ctx, h.projectName, postProjectChanges); err != nil {
			return err
		}
		project.Lock()
	}

	h.lockAll()
	return nil
}

// preCommitProject patches changed project fields. Folder or task types
// that were removed but are still referenced by cached entities stay in
// the catalog for this patch; their removal is returned and applied
// after the entity operations went through.
func (h *Hub) preCommitProject(ctx context.Context, project *ProjectEntity) (map[string]any, error) {
	changes := project.Changes()
	if len(changes) == 0 {
		return nil, nil
	}

	post := map[string]any{}
	h.deferReferencedTypeRemovals(changes, post, "folderTypes", project.OrigFolderTypes(), EntityTypeFolder)
	h.deferReferencedTypeRemovals(changes, post, "taskTypes", project.OrigTaskTypes(), EntityTypeTask)

	if err := h.conn.UpdateProject(ctx, h.projectName, changes); err != nil {
		return nil, err
	}
	project.Lock()
	return post, nil
}

// deferReferencedTypeRemovals widens one type catalog change so removed
// but still referenced types survive until the post commit patch.
func (h *Hub) deferReferencedTypeRemovals(
	changes, post map[string]any,
	key string,
	origTypes []TypeDef,
	entityType EntityType,
) {
	value, ok := changes[key]
	if !ok {
		return
	}
	newTypes, ok := value.([]TypeDef)
	if !ok {
		return
	}

	keptNames := make(map[string]struct{}, len(newTypes))
	for _, def := range newTypes {
		keptNames[def.Name] = struct{}{}
	}
	var referenced []TypeDef
	for _, def := range origTypes {
		if _, kept := keptNames[def.Name]; kept {
			continue
		}
		if h.typeNameInUse(entityType, def.Name) {
			referenced = append(referenced, def)
		}
	}
	if len(referenced) == 0 {
		return
	}
	changes[key] = append(copyTypeDefs(newTypes), referenced...)
	post[key] = newTypes
}

// typeNameInUse reports whether any cached entity references the type
// name, on the server or locally.
func (h *Hub) typeNameInUse(entityType EntityType, name string) bool {
	for _, entity := range h.Entities() {
		switch e := entity.(type) {
		case *FolderEntity:
			if entityType == EntityTypeFolder && (e.folderType == name || e.origFolderType == name) {
				return true
			}
		case *TaskEntity:
			if entityType == EntityTypeTask && (e.taskType == name || e.origTaskType == name) {
				return true
			}
		}
	}
	return false
}

// topEntities returns the entities whose parent is not cached: the
// project, detached entities and subtrees hanging off unknown parents.
func (h *Hub) topEntities() []Entity {
	var tops []Entity
	for _, entity := range h.Entities() {
		parentID, ok := entity.base().parentID.ID()
		if !ok {
			tops = append(tops, entity)
			continue
		}
		if _, cached := h.byID[parentID]; !cached {
			tops = append(tops, entity)
		}
	}
	return tops
}

// splitEntities walks the hierarchy breadth first from the top entities
// and classifies every entity as created, changed-candidate or removed.
// Children of a removed entity are detached during the walk, so whole
// subtrees end up in the removed list with parents before children.
func (h *Hub) splitEntities() (created, other []string, removed []Entity) {
	queue := h.topEntities()
	for len(queue) > 0 {
		entity := queue[0]
		queue = queue[1:]

		isRemoved := entity.Removed()
		switch {
		case entity.EntityType() == EntityTypeProject:
		case isRemoved:
			removed = append(removed, entity)
		case entity.Created():
			created = append(created, entity.ID())
		default:
			other = append(other, entity.ID())
		}

		for _, child := range h.childrenOf(Parent(entity.ID())) {
			if isRemoved {
				h.UnsetEntityParent(child.ID())
			}
			queue = append(queue, child)
		}
	}
	return created, other, removed
}

// buildOperations turns the classified entities into one ordered
// operation list: creates referenced by updates first, the updates,
// the remaining creates, then deletes with children before parents.
func (h *Hub) buildOperations() ([]ops.Operation, error) {
	createdOrder, otherOrder, removed := h.splitEntities()

	var operations []ops.Operation
	processed := map[string]struct{}{}

	for _, entityID := range otherOrder {
		entity, ok := h.byID[entityID]
		if !ok {
			continue
		}
		changes := entity.Changes()
		if len(changes) == 0 {
			continue
		}

		// An update may reference a parent that only exists locally.
		// Emit creates for the whole not yet persisted ancestor chain,
		// root-most first, before the update.
		var chain []Entity
		parentRef := entity.base().parentID
		for {
			parentID, hasParent := parentRef.ID()
			if !hasParent {
				break
			}
			parent, cached := h.byID[parentID]
			if !cached || !parent.Created() {
				break
			}
			if _, done := processed[parentID]; done {
				break
			}
			processed[parentID] = struct{}{}
			chain = append(chain, parent)
			parentRef = parent.base().parentID
		}
		for idx := len(chain) - 1; idx >= 0; idx-- {
			op, err := createOperationFor(chain[idx])
			if err != nil {
				return nil, err
			}
			operations = append(operations, op)
		}

		operations = append(operations, ops.Operation{
			ID:         ops.NewID(),
			Type:       "update",
			EntityType: string(entity.EntityType()),
			EntityID:   entity.ID(),
			Data:       changes,
		})
	}

	for _, entityID := range createdOrder {
		if _, done := processed[entityID]; done {
			continue
		}
		entity, ok := h.byID[entityID]
		if !ok {
			continue
		}
		op, err := createOperationFor(entity)
		if err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}

	for idx := len(removed) - 1; idx >= 0; idx-- {
		entity := removed[idx]
		h.forgetEntity(entity.ID())
		if entity.Created() {
			// Never persisted, nothing to delete on the server.
			continue
		}
		operations = append(operations, ops.Operation{
			ID:         ops.NewID(),
			Type:       "delete",
			EntityType: string(entity.EntityType()),
			EntityID:   entity.ID(),
		})
	}
	return operations, nil
}

func createOperationFor(entity Entity) (ops.Operation, error) {
	body, err := entity.CreateBody()
	if err != nil {
		return ops.Operation{}, err
	}
	body["id"] = entity.ID()
	return ops.Operation{
		ID:         ops.NewID(),
		Type:       "create",
		EntityType: string(entity.EntityType()),
		EntityID:   entity.ID(),
		Data:       body,
	}, nil
}

package hub

import (
	"context"
	"errors"
	"fmt"
)

// Hub mirrors one project hierarchy from a remote server, tracks local
// changes against the last known server state and pushes them back as
// one operation batch. It is not safe for concurrent use.
type Hub struct {
	conn             Connection
	projectName      string
	allowDataChanges bool

	project  *ProjectEntity
	byID     map[string]Entity
	order    []string
	byParent map[ParentRef][]Entity

	attribKeys    map[EntityType][]string
	serverVersion *ServerVersion

	// pathResetQueue is non-nil while a folder path reset walk is
	// running; re-entrant resets append to it instead of recursing.
	pathResetQueue []string
}

// Option adjusts hub construction.
type Option func(*Hub)

// WithoutDataChanges disables tracking of the freeform data maps, so
// commits never touch entity data on the server.
func WithoutDataChanges() Option {
	return func(h *Hub) { h.allowDataChanges = false }
}

// New creates a hub bound to one project on the given connection.
func New(conn Connection, projectName string, opts ...Option) *Hub {
	h := &Hub{
		conn:             conn,
		projectName:      projectName,
		allowDataChanges: true,
		byID:             map[string]Entity{},
		byParent:         map[ParentRef][]Entity{},
		attribKeys:       map[EntityType][]string{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProjectName returns the name of the mirrored project.
func (h *Hub) ProjectName() string { return h.projectName }

// AllowsDataChanges reports whether entity data maps are tracked.
func (h *Hub) AllowsDataChanges() bool { return h.allowDataChanges }

// Project returns the project entity, fetching it on first use.
func (h *Hub) Project(ctx context.Context) (*ProjectEntity, error) {
	if h.project != nil {
		return h.project, nil
	}
	if err := h.FillProjectFromServer(ctx); err != nil {
		return nil, err
	}
	return h.project, nil
}

// FillProjectFromServer discards every cached entity and re-hydrates
// the project entity from the server.
func (h *Hub) FillProjectFromServer(ctx context.Context) error {
	payload, err := h.conn.GetProject(ctx, h.projectName)
	if err != nil {
		return err
	}
	if payload == nil {
		return fmt.Errorf("project %q was not found", h.projectName)
	}

	h.project = nil
	h.byID = map[string]Entity{}
	h.order = nil
	h.byParent = map[ParentRef][]Entity{}

	project, err := projectFromPayload(h, *payload)
	if err != nil {
		return err
	}

	version, err := h.cachedServerVersion(ctx)
	if err != nil {
		return err
	}
	project.statuses.setScopeSupported(version.AtLeast(1, 5))

	h.project = project
	h.addEntity(project)
	return nil
}

func (h *Hub) loadedProject() *ProjectEntity { return h.project }

func (h *Hub) cachedServerVersion(ctx context.Context) (ServerVersion, error) {
	if h.serverVersion != nil {
		return *h.serverVersion, nil
	}
	version, err := h.conn.ServerVersion(ctx)
	if err != nil {
		return ServerVersion{}, err
	}
	h.serverVersion = &version
	return version, nil
}

// attributeKeysForType returns the attribute names applicable to the
// entity type. Schemas are static per server, fetched once and cached.
func (h *Hub) attributeKeysForType(entityType EntityType) ([]string, error) {
	if keys, ok := h.attribKeys[entityType]; ok {
		return keys, nil
	}
	schemas, err := h.conn.AttributesForType(context.Background(), entityType)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(schemas))
	for key := range schemas {
		keys = append(keys, key)
	}
	h.attribKeys[entityType] = keys
	return keys, nil
}

// Entity returns the cached entity with the given id, nil when unknown.
func (h *Hub) Entity(entityID string) Entity {
	entity, ok := h.byID[entityID]
	if !ok {
		return nil
	}
	return entity
}

// Entities returns every cached entity in insertion order.
func (h *Hub) Entities() []Entity {
	out := make([]Entity, 0, len(h.order))
	for _, id := range h.order {
		if entity, ok := h.byID[id]; ok {
			out = append(out, entity)
		}
	}
	return out
}

func (h *Hub) addEntity(entity Entity) {
	b := entity.base()
	if _, ok := h.byID[b.id]; !ok {
		h.order = append(h.order, b.id)
	}
	h.byID[b.id] = entity
	h.attachToParent(entity, b.parentID)
}

func (h *Hub) attachToParent(entity Entity, parent ParentRef) {
	if parent.IsRoot() {
		return
	}
	h.byParent[parent] = append(h.byParent[parent], entity)
	if parentEntity := h.entityForRef(parent); parentEntity != nil {
		parentEntity.base().addChildID(entity.ID())
	}
}

func (h *Hub) detachFromParent(entityID string, parent ParentRef) {
	if parent.IsRoot() {
		return
	}
	siblings := h.byParent[parent]
	for idx, sibling := range siblings {
		if sibling.ID() == entityID {
			h.byParent[parent] = append(siblings[:idx], siblings[idx+1:]...)
			break
		}
	}
	if len(h.byParent[parent]) == 0 {
		delete(h.byParent, parent)
	}
	if parentEntity := h.entityForRef(parent); parentEntity != nil {
		parentEntity.base().removeChildID(entityID)
	}
}

func (h *Hub) entityForRef(ref ParentRef) Entity {
	id, ok := ref.ID()
	if !ok {
		return nil
	}
	return h.Entity(id)
}

// moveEntity re-indexes an entity whose parent ref already changed on
// the entity itself. Folder paths and immutability caches of both
// ancestor chains go stale.
func (h *Hub) moveEntity(entityID string, newParent, origParent ParentRef) {
	h.detachFromParent(entityID, origParent)
	entity, ok := h.byID[entityID]
	if !ok {
		return
	}
	h.attachToParent(entity, newParent)

	if folder, isFolder := entity.(*FolderEntity); isFolder {
		folder.ResetPath()
	}
	h.resetImmutableForHierarchyCache(entityID, true)
	if origID, hasOrig := origParent.ID(); hasOrig {
		h.resetImmutableForHierarchyCache(origID, true)
	}
}

// SetEntityParent moves a cached entity under a new parent.
func (h *Hub) SetEntityParent(entityID, parentID string) error {
	entity, ok := h.byID[entityID]
	if !ok {
		return fmt.Errorf("entity %q is not cached", entityID)
	}
	entity.base().setParentRef(Parent(parentID))
	return nil
}

// UnsetEntityParent detaches an entity from the hierarchy, marking it
// as removed.
func (h *Hub) UnsetEntityParent(entityID string) {
	entity, ok := h.byID[entityID]
	if !ok {
		return
	}
	entity.base().setParentRef(NoParent())
}

// DeleteEntity marks an entity for deletion on the next commit.
func (h *Hub) DeleteEntity(entity Entity) error {
	if entity.EntityType() == EntityTypeProject {
		return errors.New("the project entity cannot be deleted")
	}
	h.UnsetEntityParent(entity.ID())
	return nil
}

// forgetEntity drops an entity from every index.
func (h *Hub) forgetEntity(entityID string) {
	entity, ok := h.byID[entityID]
	if !ok {
		return
	}
	h.detachFromParent(entityID, entity.base().parentID)
	delete(h.byID, entityID)
	for idx, id := range h.order {
		if id == entityID {
			h.order = append(h.order[:idx], h.order[idx+1:]...)
			break
		}
	}
}

// childrenOf returns the cached entities indexed under a parent ref.
func (h *Hub) childrenOf(parent ParentRef) []Entity {
	return append([]Entity(nil), h.byParent[parent]...)
}

// EntityChildren returns the children of an entity, fetching them from
// the server when the child set is not materialized yet.
func (h *Hub) EntityChildren(ctx context.Context, entity Entity, allowFetch bool) ([]Entity, error) {
	b := entity.base()
	if !b.childrenKnown() {
		if !allowFetch {
			return nil, fmt.Errorf("children of entity %q are not fetched", b.id)
		}
		if err := h.fetchEntityChildren(ctx, entity); err != nil {
			return nil, err
		}
	}
	ids, _ := b.ChildrenIDs()
	children := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if child, ok := h.byID[id]; ok {
			children = append(children, child)
		}
	}
	return children, nil
}

func (h *Hub) fetchEntityChildren(ctx context.Context, entity Entity) error {
	childIDs := map[string]struct{}{}
	for _, child := range h.byParent[Parent(entity.ID())] {
		childIDs[child.ID()] = struct{}{}
	}

	switch entity.EntityType() {
	case EntityTypeProject, EntityTypeFolder:
		fields := append(h.conn.DefaultFieldsForType(EntityTypeFolder), "hasProducts", "data")
		folders, err := h.conn.GetFolders(ctx, h.projectName, []string{entity.ID()}, fields)
		if err != nil {
			return err
		}
		for _, payload := range folders {
			folder, err := h.ensureFolder(payload)
			if err != nil {
				return err
			}
			childIDs[folder.ID()] = struct{}{}
		}
		if entity.EntityType() == EntityTypeFolder {
			taskFields := append(h.conn.DefaultFieldsForType(EntityTypeTask), "data")
			tasks, err := h.conn.GetTasks(ctx, h.projectName, []string{entity.ID()}, taskFields)
			if err != nil {
				return err
			}
			for _, payload := range tasks {
				task, err := h.ensureTask(payload)
				if err != nil {
					return err
				}
				childIDs[task.ID()] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(childIDs))
	for id := range childIDs {
		ids = append(ids, id)
	}
	entity.base().fillChildrenIDs(ids)
	return nil
}

func (h *Hub) ensureFolder(payload FolderPayload) (*FolderEntity, error) {
	if existing, ok := h.byID[NormalizeEntityID(payload.ID)]; ok {
		folder, isFolder := existing.(*FolderEntity)
		if !isFolder {
			return nil, fmt.Errorf("entity %q is not a folder", payload.ID)
		}
		return folder, nil
	}
	return h.AddFolder(payload)
}

func (h *Hub) ensureTask(payload TaskPayload) (*TaskEntity, error) {
	if existing, ok := h.byID[NormalizeEntityID(payload.ID)]; ok {
		task, isTask := existing.(*TaskEntity)
		if !isTask {
			return nil, fmt.Errorf("entity %q is not a task", payload.ID)
		}
		return task, nil
	}
	return h.AddTask(payload)
}

// AddFolder hydrates a persisted folder payload into the cache.
func (h *Hub) AddFolder(payload FolderPayload) (*FolderEntity, error) {
	folder, err := folderFromPayload(h, payload)
	if err != nil {
		return nil, err
	}
	folder.hasPublishedContent = payload.HasProducts
	h.addEntity(folder)
	return folder, nil
}

// AddTask hydrates a persisted task payload into the cache.
func (h *Hub) AddTask(payload TaskPayload) (*TaskEntity, error) {
	task, err := taskFromPayload(h, payload)
	if err != nil {
		return nil, err
	}
	h.addEntity(task)
	return task, nil
}

// AddProduct hydrates a persisted product payload into the cache.
func (h *Hub) AddProduct(payload ProductPayload) (*ProductEntity, error) {
	product, err := productFromPayload(h, payload)
	if err != nil {
		return nil, err
	}
	h.addEntity(product)
	return product, nil
}

// AddVersion hydrates a persisted version payload into the cache.
func (h *Hub) AddVersion(payload VersionPayload) (*VersionEntity, error) {
	version, err := versionFromPayload(h, payload)
	if err != nil {
		return nil, err
	}
	h.addEntity(version)
	return version, nil
}

// AddNewFolder registers a folder that does not exist on the server
// yet. It is created on the next commit.
func (h *Hub) AddNewFolder(seed FolderSeed) (*FolderEntity, error) {
	created := true
	seed.Created = &created
	folder, err := newFolderEntity(h, seed)
	if err != nil {
		return nil, err
	}
	h.addEntity(folder)
	return folder, nil
}

// AddNewTask registers a task that does not exist on the server yet.
func (h *Hub) AddNewTask(seed TaskSeed) (*TaskEntity, error) {
	created := true
	seed.Created = &created
	task, err := newTaskEntity(h, seed)
	if err != nil {
		return nil, err
	}
	h.addEntity(task)
	return task, nil
}

// AddNewProduct registers a product that does not exist on the server
// yet.
func (h *Hub) AddNewProduct(seed ProductSeed) (*ProductEntity, error) {
	created := true
	seed.Created = &created
	product, err := newProductEntity(h, seed)
	if err != nil {
		return nil, err
	}
	h.addEntity(product)
	return product, nil
}

// AddNewVersion registers a version that does not exist on the server
// yet.
func (h *Hub) AddNewVersion(seed VersionSeed) (*VersionEntity, error) {
	created := true
	seed.Created = &created
	version, err := newVersionEntity(h, seed)
	if err != nil {
		return nil, err
	}
	h.addEntity(version)
	return version, nil
}

// FolderByID returns a cached folder, optionally fetching it from the
// server when allowFetch is set. A missing folder yields nil.
func (h *Hub) FolderByID(ctx context.Context, folderID string, allowFetch bool) (*FolderEntity, error) {
	entity, err := h.typedByID(ctx, folderID, EntityTypeFolder, allowFetch)
	if err != nil || entity == nil {
		return nil, err
	}
	return entity.(*FolderEntity), nil
}

// TaskByID returns a cached task, optionally fetching it.
func (h *Hub) TaskByID(ctx context.Context, taskID string, allowFetch bool) (*TaskEntity, error) {
	entity, err := h.typedByID(ctx, taskID, EntityTypeTask, allowFetch)
	if err != nil || entity == nil {
		return nil, err
	}
	return entity.(*TaskEntity), nil
}

// ProductByID returns a cached product, optionally fetching it.
func (h *Hub) ProductByID(ctx context.Context, productID string, allowFetch bool) (*ProductEntity, error) {
	entity, err := h.typedByID(ctx, productID, EntityTypeProduct, allowFetch)
	if err != nil || entity == nil {
		return nil, err
	}
	return entity.(*ProductEntity), nil
}

// VersionByID returns a cached version, optionally fetching it.
func (h *Hub) VersionByID(ctx context.Context, versionID string, allowFetch bool) (*VersionEntity, error) {
	entity, err := h.typedByID(ctx, versionID, EntityTypeVersion, allowFetch)
	if err != nil || entity == nil {
		return nil, err
	}
	return entity.(*VersionEntity), nil
}

func (h *Hub) typedByID(ctx context.Context, entityID string, entityType EntityType, allowFetch bool) (Entity, error) {
	if entity, ok := h.byID[entityID]; ok {
		if entity.EntityType() != entityType {
			return nil, fmt.Errorf("entity %q is a %s, not a %s", entityID, entity.EntityType(), entityType)
		}
		return entity, nil
	}
	if !allowFetch {
		return nil, nil
	}
	return h.GetOrFetchEntityByID(ctx, entityID, []EntityType{entityType})
}

// GetOrFetchEntityByID returns a cached entity or fetches it from the
// server, trying the given entity types in order. A miss yields nil.
func (h *Hub) GetOrFetchEntityByID(ctx context.Context, entityID string, entityTypes []EntityType) (Entity, error) {
	if entity, ok := h.byID[entityID]; ok {
		return entity, nil
	}
	for _, entityType := range entityTypes {
		fields := append(h.conn.DefaultFieldsForType(entityType), "data")
		switch entityType {
		case EntityTypeFolder:
			payload, err := h.conn.GetFolderByID(ctx, h.projectName, entityID, append(fields, "hasProducts"))
			if err != nil {
				return nil, err
			}
			if payload != nil {
				return h.AddFolder(*payload)
			}
		case EntityTypeTask:
			payload, err := h.conn.GetTaskByID(ctx, h.projectName, entityID, fields)
			if err != nil {
				return nil, err
			}
			if payload != nil {
				return h.AddTask(*payload)
			}
		case EntityTypeProduct:
			payload, err := h.conn.GetProductByID(ctx, h.projectName, entityID, fields)
			if err != nil {
				return nil, err
			}
			if payload != nil {
				return h.AddProduct(*payload)
			}
		case EntityTypeVersion:
			payload, err := h.conn.GetVersionByID(ctx, h.projectName, entityID, fields)
			if err != nil {
				return nil, err
			}
			if payload != nil {
				return h.AddVersion(*payload)
			}
		}
	}
	return nil, nil
}

// FetchHierarchyEntities discards the cache and loads the whole folder
// and task hierarchy of the project in bulk.
func (h *Hub) FetchHierarchyEntities(ctx context.Context) error {
	if err := h.FillProjectFromServer(ctx); err != nil {
		return err
	}

	folderFields := append(h.conn.DefaultFieldsForType(EntityTypeFolder), "hasProducts", "data")
	folders, err := h.conn.GetFolders(ctx, h.projectName, nil, folderFields)
	if err != nil {
		return err
	}
	taskFields := append(h.conn.DefaultFieldsForType(EntityTypeTask), "data")
	tasks, err := h.conn.GetTasks(ctx, h.projectName, nil, taskFields)
	if err != nil {
		return err
	}

	// Hydrate folders top down so children always find their parent.
	byParent := map[string][]FolderPayload{}
	for _, payload := range folders {
		parentID := h.projectName
		if payload.ParentID != nil {
			parentID = *payload.ParentID
		}
		byParent[parentID] = append(byParent[parentID], payload)
	}
	queue := []string{h.projectName}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		for _, payload := range byParent[parentID] {
			folder, err := h.AddFolder(payload)
			if err != nil {
				return err
			}
			queue = append(queue, folder.ID())
		}
	}

	for _, payload := range tasks {
		if _, err := h.AddTask(payload); err != nil {
			return err
		}
	}

	// Every child set is now complete.
	for _, entity := range h.Entities() {
		switch entity.EntityType() {
		case EntityTypeProject, EntityTypeFolder:
			ids := make([]string, 0)
			for _, child := range h.byParent[Parent(entity.ID())] {
				ids = append(ids, child.ID())
			}
			entity.base().fillChildrenIDs(ids)
		}
	}
	return nil
}

// IsImmutableForHierarchy reports whether hierarchy fields of the
// entity (name, parent) must not change anymore. A folder with
// published content is immutable and so is every ancestor of one.
func (h *Hub) IsImmutableForHierarchy(ctx context.Context, entity Entity) (bool, error) {
	b := entity.base()
	if b.immutableCache != nil {
		return *b.immutableCache, nil
	}

	immutable := false
	switch e := entity.(type) {
	case *FolderEntity:
		immutable = e.hasPublishedContent
	case *VersionEntity:
		immutable = !e.created
	}
	if !immutable {
		children, err := h.EntityChildren(ctx, entity, true)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			childImmutable, err := h.IsImmutableForHierarchy(ctx, child)
			if err != nil {
				return false, err
			}
			if childImmutable {
				immutable = true
				break
			}
		}
	}
	b.immutableCache = &immutable
	return immutable, nil
}

// resetImmutableForHierarchyCache invalidates the cached immutability
// of the ancestor chain (bottomToTop) or the subtree of an entity.
func (h *Hub) resetImmutableForHierarchyCache(entityID string, bottomToTop bool) {
	visited := map[string]struct{}{}
	queue := []string{entityID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		entity, ok := h.byID[id]
		if !ok {
			continue
		}
		b := entity.base()
		b.immutableCache = nil
		if bottomToTop {
			if parentID, hasParent := b.parentID.ID(); hasParent {
				queue = append(queue, parentID)
			}
		} else {
			for _, child := range h.byParent[Parent(id)] {
				queue = append(queue, child.ID())
			}
		}
	}
}

// folderPathReset invalidates the cached paths of a folder subtree. A
// child whose path was never computed cannot have descendants with
// computed paths, so its branch is skipped.
func (h *Hub) folderPathReset(folderID string) {
	if h.pathResetQueue != nil {
		h.pathResetQueue = append(h.pathResetQueue, folderID)
		return
	}
	h.pathResetQueue = []string{folderID}
	defer func() { h.pathResetQueue = nil }()
	for len(h.pathResetQueue) > 0 {
		id := h.pathResetQueue[0]
		h.pathResetQueue = h.pathResetQueue[1:]
		for _, child := range h.byParent[Parent(id)] {
			folder, isFolder := child.(*FolderEntity)
			if !isFolder || folder.cachedPath() == nil {
				continue
			}
			folder.ResetPath()
		}
	}
}

// lockAll re-baselines every cached entity.
func (h *Hub) lockAll() {
	for _, entity := range h.Entities() {
		entity.Lock()
	}
}

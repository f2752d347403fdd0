package hub

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"trackline/ops"
)

var (
	assetsFolderID = strings.Repeat("a", 32)
	charsFolderID  = strings.Repeat("b", 32)
	modelingTaskID = strings.Repeat("c", 32)
	shotsFolderID  = strings.Repeat("d", 32)
)

type fakeConn struct {
	project *ProjectPayload
	folders []FolderPayload
	tasks   []TaskPayload

	version ServerVersion

	sentBatches    [][]ops.Operation
	projectPatches []map[string]any
}

func newFakeConn() *fakeConn {
	charsParent := assetsFolderID
	return &fakeConn{
		project: &ProjectPayload{
			Name:    "demo",
			Code:    "dm",
			Active:  true,
			Attrib:  map[string]any{"fps": 25.0},
			Statuses: []StatusDef{
				{Name: "Not ready", State: "not_started", Color: "#434a56"},
				{Name: "In progress", State: "in_progress", Color: "#3498db"},
				{Name: "Done", State: "done", Color: "#00f0b4"},
			},
			FolderTypes: []TypeDef{{Name: "Asset"}, {Name: "Shot"}},
			TaskTypes:   []TypeDef{{Name: "Modeling"}, {Name: "Rigging"}},
		},
		folders: []FolderPayload{
			{
				ID: assetsFolderID, Name: "assets", FolderType: "Asset",
				Path: "/assets", Status: "In progress", Active: true,
				Attrib: map[string]any{"fps": 25.0},
				Data:   map[string]any{"a": float64(1)},
			},
			{
				ID: shotsFolderID, Name: "shots", FolderType: "Shot",
				Path: "/shots", Status: "In progress", Active: true,
				Attrib: map[string]any{"fps": 25.0},
			},
			{
				ID: charsFolderID, Name: "chars", FolderType: "Asset",
				ParentID: &charsParent,
				Path:     "/assets/chars", Status: "In progress", Active: true,
				Attrib: map[string]any{"fps": 25.0},
			},
		},
		tasks: []TaskPayload{
			{
				ID: modelingTaskID, Name: "modeling", TaskType: "Modeling",
				FolderID: charsFolderID, Status: "In progress", Active: true,
				Attrib: map[string]any{"fps": 25.0},
			},
		},
		version: ServerVersion{Major: 1, Minor: 5},
	}
}

func (c *fakeConn) GetProject(_ context.Context, projectName string) (*ProjectPayload, error) {
	if c.project == nil || c.project.Name != projectName {
		return nil, nil
	}
	payload := *c.project
	return &payload, nil
}

func (c *fakeConn) GetFolders(_ context.Context, _ string, parentIDs []string, _ []string) ([]FolderPayload, error) {
	wanted := map[string]struct{}{}
	for _, id := range parentIDs {
		wanted[id] = struct{}{}
	}
	var out []FolderPayload
	for _, payload := range c.folders {
		if len(wanted) > 0 {
			parent := c.project.Name
			if payload.ParentID != nil {
				parent = *payload.ParentID
			}
			if _, ok := wanted[parent]; !ok {
				continue
			}
		}
		out = append(out, payload)
	}
	return out, nil
}

func (c *fakeConn) GetTasks(_ context.Context, _ string, folderIDs []string, _ []string) ([]TaskPayload, error) {
	wanted := map[string]struct{}{}
	for _, id := range folderIDs {
		wanted[id] = struct{}{}
	}
	var out []TaskPayload
	for _, payload := range c.tasks {
		if len(wanted) > 0 {
			if _, ok := wanted[payload.FolderID]; !ok {
				continue
			}
		}
		out = append(out, payload)
	}
	return out, nil
}

func (c *fakeConn) GetFolderByID(_ context.Context, _, folderID string, _ []string) (*FolderPayload, error) {
	for _, payload := range c.folders {
		if payload.ID == folderID {
			found := payload
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeConn) GetTaskByID(_ context.Context, _, taskID string, _ []string) (*TaskPayload, error) {
	for _, payload := range c.tasks {
		if payload.ID == taskID {
			found := payload
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeConn) GetProductByID(context.Context, string, string, []string) (*ProductPayload, error) {
	return nil, nil
}

func (c *fakeConn) GetVersionByID(context.Context, string, string, []string) (*VersionPayload, error) {
	return nil, nil
}

func (c *fakeConn) AttributesForType(context.Context, EntityType) (map[string]AttributeSchema, error) {
	return map[string]AttributeSchema{
		"fps":      {Type: "float"},
		"priority": {Type: "string"},
	}, nil
}

func (c *fakeConn) DefaultFieldsForType(EntityType) []string {
	return []string{"id", "name"}
}

func (c *fakeConn) ServerVersion(context.Context) (ServerVersion, error) {
	return c.version, nil
}

func (c *fakeConn) SendOperations(_ context.Context, _ string, operations []ops.Operation, _ bool) ([]ops.Result, error) {
	batch := make([]ops.Operation, len(operations))
	copy(batch, operations)
	c.sentBatches = append(c.sentBatches, batch)
	results := make([]ops.Result, 0, len(operations))
	for _, operation := range operations {
		results = append(results, ops.Result{
			ID:       operation.ID,
			Type:     operation.Type,
			EntityID: operation.EntityID,
			Success:  true,
		})
	}
	return results, nil
}

func (c *fakeConn) UpdateProject(_ context.Context, _ string, fields map[string]any) error {
	patch := make(map[string]any, len(fields))
	for key, value := range fields {
		patch[key] = value
	}
	c.projectPatches = append(c.projectPatches, patch)
	return nil
}

type testEnv struct {
	t    *testing.T
	ctx  context.Context
	conn *fakeConn
	hub  *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := newFakeConn()
	h := New(conn, "demo")
	if err := h.FetchHierarchyEntities(context.Background()); err != nil {
		t.Fatalf("fetch hierarchy: %v", err)
	}
	return &testEnv{t: t, ctx: context.Background(), conn: conn, hub: h}
}

func (e *testEnv) folder(folderID string) *FolderEntity {
	e.t.Helper()
	folder, ok := e.hub.Entity(folderID).(*FolderEntity)
	if !ok {
		e.t.Fatalf("folder %s is not cached", folderID)
	}
	return folder
}

func (e *testEnv) taskEntity(taskID string) *TaskEntity {
	e.t.Helper()
	task, ok := e.hub.Entity(taskID).(*TaskEntity)
	if !ok {
		e.t.Fatalf("task %s is not cached", taskID)
	}
	return task
}

func (e *testEnv) commit() {
	e.t.Helper()
	if err := e.hub.CommitChanges(e.ctx); err != nil {
		e.t.Fatalf("commit: %v", err)
	}
}

func TestFetchHierarchyRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	for _, entity := range env.hub.Entities() {
		if changes := entity.Changes(); len(changes) > 0 {
			t.Fatalf("entity %s reports changes after hydration: %v", entity.ID(), changes)
		}
	}

	env.commit()
	if len(env.conn.sentBatches) != 0 {
		t.Fatalf("expected no operations, got %d batches", len(env.conn.sentBatches))
	}
	if len(env.conn.projectPatches) != 0 {
		t.Fatalf("expected no project patches, got %d", len(env.conn.projectPatches))
	}
}

func TestChangesContainOnlyTouchedFields(t *testing.T) {
	env := newTestEnv(t)
	folder := env.folder(charsFolderID)

	folder.SetName("characters")
	folder.SetLabel("Characters")
	if err := folder.Attribs().Set("priority", "high"); err != nil {
		t.Fatalf("set attrib: %v", err)
	}

	changes := folder.Changes()
	if changes["name"] != "characters" {
		t.Fatalf("unexpected name change: %v", changes["name"])
	}
	if changes["label"] != "Characters" {
		t.Fatalf("unexpected label change: %v", changes["label"])
	}
	attrib, ok := changes["attrib"].(map[string]any)
	if !ok || attrib["priority"] != "high" {
		t.Fatalf("unexpected attrib change: %v", changes["attrib"])
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 changed fields, got %v", changes)
	}

	env.commit()
	if changes := folder.Changes(); len(changes) != 0 {
		t.Fatalf("changes survived the commit: %v", changes)
	}
}

func TestDataDeleteSignalsExplicitNull(t *testing.T) {
	env := newTestEnv(t)
	folder := env.folder(assetsFolderID)

	folder.Data().Delete("a")

	changes := folder.Changes()
	data, ok := changes["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data changes, got %v", changes)
	}
	value, present := data["a"]
	if !present || value != nil {
		t.Fatalf("deleted key must serialize as explicit null, got %v", data)
	}
}

func TestReparentKeepsIndexesConsistent(t *testing.T) {
	env := newTestEnv(t)
	chars := env.folder(charsFolderID)

	chars.SetParentID(shotsFolderID)

	if parentID, _ := chars.ParentID().ID(); parentID != shotsFolderID {
		t.Fatalf("parent id not updated: %s", parentID)
	}
	assetsChildren, err := env.hub.EntityChildren(env.ctx, env.folder(assetsFolderID), false)
	if err != nil {
		t.Fatalf("assets children: %v", err)
	}
	for _, child := range assetsChildren {
		if child.ID() == charsFolderID {
			t.Fatalf("chars still listed under assets")
		}
	}
	shotsChildren, err := env.hub.EntityChildren(env.ctx, env.folder(shotsFolderID), false)
	if err != nil {
		t.Fatalf("shots children: %v", err)
	}
	found := false
	for _, child := range shotsChildren {
		found = found || child.ID() == charsFolderID
	}
	if !found {
		t.Fatalf("chars not listed under shots")
	}
}

func TestReparentRecomputesFolderPaths(t *testing.T) {
	env := newTestEnv(t)
	chars := env.folder(charsFolderID)

	if path := chars.Path(); path != "/assets/chars" {
		t.Fatalf("unexpected initial path %q", path)
	}
	chars.SetParentID(shotsFolderID)
	if path := chars.Path(); path != "/shots/chars" {
		t.Fatalf("path not recomputed after reparent, got %q", path)
	}
}

func TestPublishedContentPropagatesImmutability(t *testing.T) {
	env := newTestEnv(t)
	assets := env.folder(assetsFolderID)
	chars := env.folder(charsFolderID)

	immutable, err := env.hub.IsImmutableForHierarchy(env.ctx, assets)
	if err != nil {
		t.Fatalf("immutability: %v", err)
	}
	if immutable {
		t.Fatalf("assets must start mutable")
	}

	chars.SetHasPublishedContent(true)
	for _, entity := range []Entity{chars, assets} {
		immutable, err = env.hub.IsImmutableForHierarchy(env.ctx, entity)
		if err != nil {
			t.Fatalf("immutability of %s: %v", entity.ID(), err)
		}
		if !immutable {
			t.Fatalf("entity %s must be immutable after publish", entity.ID())
		}
	}

	chars.SetHasPublishedContent(false)
	immutable, err = env.hub.IsImmutableForHierarchy(env.ctx, assets)
	if err != nil {
		t.Fatalf("immutability: %v", err)
	}
	if immutable {
		t.Fatalf("assets must be mutable again after unpublish")
	}
}

func TestGetOrFetchEntityByID(t *testing.T) {
	env := newTestEnv(t)
	extraID := strings.Repeat("e", 32)
	env.conn.tasks = append(env.conn.tasks, TaskPayload{
		ID: extraID, Name: "rigging", TaskType: "Rigging",
		FolderID: charsFolderID, Status: "In progress", Active: true,
		Attrib: map[string]any{"fps": 25.0},
	})

	entity, err := env.hub.GetOrFetchEntityByID(
		env.ctx, extraID, []EntityType{EntityTypeFolder, EntityTypeTask},
	)
	if err != nil {
		t.Fatalf("fetch by id: %v", err)
	}
	task, ok := entity.(*TaskEntity)
	if !ok {
		t.Fatalf("expected task entity, got %T", entity)
	}
	if task.Name() != "rigging" {
		t.Fatalf("unexpected task %q", task.Name())
	}
	if cached := env.hub.Entity(extraID); cached != entity {
		t.Fatalf("fetched entity not cached")
	}

	missing, err := env.hub.GetOrFetchEntityByID(
		env.ctx, strings.Repeat("f", 32), []EntityType{EntityTypeTask},
	)
	if err != nil {
		t.Fatalf("fetch missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown id, got %v", missing)
	}
}

func TestSetStatusValidatesCatalogAndScope(t *testing.T) {
	env := newTestEnv(t)
	task := env.taskEntity(modelingTaskID)

	if err := task.SetStatus("done"); err != nil {
		t.Fatalf("slug matched status must be accepted: %v", err)
	}
	if status, _ := task.Status().Value(); status != "done" {
		t.Fatalf("status not set, got %q", status)
	}
	if err := task.SetStatus("nonsense"); err == nil {
		t.Fatalf("unknown status must be rejected")
	}

	project, err := env.hub.Project(env.ctx)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	folderOnly := project.Statuses().Get("Not ready")
	if folderOnly == nil {
		t.Fatalf("status catalog incomplete")
	}
	if err := folderOnly.SetScope([]string{"folder"}); err != nil {
		t.Fatalf("set scope: %v", err)
	}
	if err := task.SetStatus("Not ready"); err == nil {
		t.Fatalf("out of scope status must be rejected")
	}
}

func TestAttribChangesRequireKnownKeys(t *testing.T) {
	env := newTestEnv(t)
	folder := env.folder(assetsFolderID)

	if err := folder.Attribs().Set("unknownAttr", 1); err == nil {
		t.Fatalf("unknown attribute must be rejected")
	}
	if err := folder.Attribs().Set("fps", 24.0); err != nil {
		t.Fatalf("set fps: %v", err)
	}
	changes := folder.Attribs().Changes()
	if !reflect.DeepEqual(changes, map[string]any{"fps": 24.0}) {
		t.Fatalf("unexpected attrib changes: %v", changes)
	}
}

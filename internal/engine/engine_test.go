package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/repo"
	"trackline/ops"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("demo")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createOp(entityType string, data map[string]any) ops.Operation {
	operation := ops.NewCreateOperation("demo", entityType, data)
	body, _ := operation.Body()
	return body
}

func mustApply(t *testing.T, env testEnv, operations ...ops.Operation) []ops.Result {
	t.Helper()
	results, success, err := env.Engine.ApplyOperations(env.Ctx, "demo", operations, false, "tester")
	if err != nil {
		t.Fatalf("apply operations: %v", err)
	}
	if !success {
		t.Fatalf("batch failed: %+v", results)
	}
	return results
}

func TestApplyOperationsCreatesHierarchy(t *testing.T) {
	env := newTestEnv(t)

	folder := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	child := createOp("folder", map[string]any{
		"name": "chars", "folderType": "Asset", "parentId": folder.EntityID,
	})
	task := createOp("task", map[string]any{
		"name": "modeling", "taskType": "Modeling", "folderId": child.EntityID,
	})
	mustApply(t, env, folder, child, task)

	views, err := env.Engine.ListFolders(env.Ctx, "demo", nil)
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 folders, got %d", len(views))
	}
	paths := map[string]string{}
	for _, view := range views {
		paths[view.Entity.Name] = view.Path
	}
	if paths["assets"] != "/assets" || paths["chars"] != "/assets/chars" {
		t.Fatalf("unexpected paths %v", paths)
	}

	stored, err := env.Engine.GetEntityOfType(env.Ctx, "demo", task.EntityID, "task")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.ParentID == nil || *stored.ParentID != child.EntityID {
		t.Fatalf("task not attached to folder: %+v", stored)
	}
	if stored.Status != "Not ready" {
		t.Fatalf("missing status must default to the first catalog entry, got %q", stored.Status)
	}

	entries, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "demo", "entity.created", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 create events, got %d", len(entries))
	}
}

func TestApplyOperationsRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)

	folder := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	bad := createOp("task", map[string]any{
		"name": "oops", "taskType": "NoSuchType", "folderId": folder.EntityID,
	})
	results, success, err := env.Engine.ApplyOperations(env.Ctx, "demo", []ops.Operation{folder, bad}, false, "tester")
	if err != nil {
		t.Fatalf("apply operations: %v", err)
	}
	if success {
		t.Fatalf("batch with invalid task type must fail")
	}
	if results[0].Success != true || results[1].Success != false {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[1].ErrorMessage == "" {
		t.Fatalf("failed result must carry an error message")
	}

	if _, err := env.Engine.Repo.GetEntity(env.Ctx, nil, "demo", folder.EntityID); err != repo.ErrNotFound {
		t.Fatalf("rolled back folder must not persist, got %v", err)
	}
}

func TestApplyOperationsCanFailKeepsGoodOps(t *testing.T) {
	env := newTestEnv(t)

	folder := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	bad := createOp("folder", map[string]any{"name": "broken", "folderType": "NoSuchType"})
	results, success, err := env.Engine.ApplyOperations(env.Ctx, "demo", []ops.Operation{folder, bad}, true, "tester")
	if err != nil {
		t.Fatalf("apply operations: %v", err)
	}
	if success {
		t.Fatalf("overall success must be false when one operation fails")
	}
	if !results[0].Success || results[1].Success {
		t.Fatalf("unexpected results %+v", results)
	}
	if _, err := env.Engine.Repo.GetEntity(env.Ctx, nil, "demo", folder.EntityID); err != nil {
		t.Fatalf("good operation must persist with canFail: %v", err)
	}
}

func TestDeleteWithChildrenIsConflict(t *testing.T) {
	env := newTestEnv(t)

	folder := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	task := createOp("task", map[string]any{
		"name": "modeling", "taskType": "Modeling", "folderId": folder.EntityID,
	})
	mustApply(t, env, folder, task)

	del, _ := ops.NewDeleteOperation("demo", "folder", folder.EntityID).Body()
	results, success, err := env.Engine.ApplyOperations(env.Ctx, "demo", []ops.Operation{del}, false, "tester")
	if err != nil {
		t.Fatalf("apply operations: %v", err)
	}
	if success || results[0].Success {
		t.Fatalf("deleting a folder with a task must be rejected: %+v", results)
	}

	delTask, _ := ops.NewDeleteOperation("demo", "task", task.EntityID).Body()
	delFolder, _ := ops.NewDeleteOperation("demo", "folder", folder.EntityID).Body()
	mustApply(t, env, delTask, delFolder)
}

func TestUpdateMergesAttribAndRemovesNulls(t *testing.T) {
	env := newTestEnv(t)

	folder := createOp("folder", map[string]any{
		"name": "assets", "folderType": "Asset",
		"attrib": map[string]any{"fps": 25, "priority": "high"},
	})
	mustApply(t, env, folder)

	update, _ := ops.NewUpdateOperation("demo", "folder", folder.EntityID, map[string]any{
		"attrib": map[string]any{"fps": 30, "priority": nil},
	}).Body()
	mustApply(t, env, update)

	stored, err := env.Engine.Repo.GetEntity(env.Ctx, nil, "demo", folder.EntityID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	var attrib map[string]any
	if err := json.Unmarshal([]byte(stored.AttribJSON), &attrib); err != nil {
		t.Fatalf("decode attrib: %v", err)
	}
	if attrib["fps"] != float64(30) {
		t.Fatalf("fps not updated: %v", attrib)
	}
	if _, present := attrib["priority"]; present {
		t.Fatalf("explicit null must remove the key: %v", attrib)
	}
}

func TestSiblingNameConflict(t *testing.T) {
	env := newTestEnv(t)

	first := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	dupe := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	results, success, err := env.Engine.ApplyOperations(env.Ctx, "demo", []ops.Operation{first, dupe}, false, "tester")
	if err != nil {
		t.Fatalf("apply operations: %v", err)
	}
	if success || results[1].Success {
		t.Fatalf("duplicate sibling name must be rejected: %+v", results)
	}
}

func TestPatchProjectRejectsRemovingUsedType(t *testing.T) {
	env := newTestEnv(t)
	mustApply(t, env, createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"}))

	_, err := env.Engine.PatchProject(env.Ctx, "demo", map[string]any{
		"folderTypes": []map[string]any{{"name": "Shot"}},
	}, "tester")
	if err == nil {
		t.Fatalf("removing a referenced folder type must conflict")
	}
	if _, ok := err.(engine.ConflictError); !ok {
		t.Fatalf("expected conflict error, got %v", err)
	}

	// Unused types go away without protest.
	if _, err := env.Engine.PatchProject(env.Ctx, "demo", map[string]any{
		"folderTypes": []map[string]any{{"name": "Asset"}},
	}, "tester"); err != nil {
		t.Fatalf("removing unused types: %v", err)
	}
}

func TestPatchProjectRenamesStatusOnEntities(t *testing.T) {
	env := newTestEnv(t)
	folder := createOp("folder", map[string]any{
		"name": "assets", "folderType": "Asset", "status": "In progress",
	})
	mustApply(t, env, folder)

	project, err := env.Engine.Repo.GetProject(env.Ctx, nil, "demo")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	var statuses []map[string]any
	if err := json.Unmarshal([]byte(project.StatusesJSON), &statuses); err != nil {
		t.Fatalf("decode statuses: %v", err)
	}
	for _, status := range statuses {
		if status["name"] == "In progress" {
			status["name"] = "Underway"
			status["original_name"] = "In progress"
		}
	}
	if _, err := env.Engine.PatchProject(env.Ctx, "demo", map[string]any{
		"statuses": statuses,
	}, "tester"); err != nil {
		t.Fatalf("patch statuses: %v", err)
	}

	stored, err := env.Engine.Repo.GetEntity(env.Ctx, nil, "demo", folder.EntityID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if stored.Status != "Underway" {
		t.Fatalf("rename must follow entities, got %q", stored.Status)
	}
}

func TestVersionNamesDerivedFromNumber(t *testing.T) {
	env := newTestEnv(t)

	folder := createOp("folder", map[string]any{"name": "assets", "folderType": "Asset"})
	product := createOp("product", map[string]any{
		"name": "modelMain", "productType": "model", "folderId": folder.EntityID,
	})
	version := createOp("version", map[string]any{
		"version": 3, "productId": product.EntityID,
	})
	hero := createOp("version", map[string]any{
		"version": -2, "productId": product.EntityID,
	})
	mustApply(t, env, folder, product, version, hero)

	stored, err := env.Engine.GetEntityOfType(env.Ctx, "demo", version.EntityID, "version")
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if stored.Name != "v003" {
		t.Fatalf("unexpected version name %q", stored.Name)
	}
	heroStored, err := env.Engine.GetEntityOfType(env.Ctx, "demo", hero.EntityID, "version")
	if err != nil {
		t.Fatalf("get hero version: %v", err)
	}
	if heroStored.Name != "HERO_v002" {
		t.Fatalf("unexpected hero version name %q", heroStored.Name)
	}
}

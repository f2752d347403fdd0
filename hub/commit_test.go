package hub

import (
	"regexp"
	"testing"

	"trackline/ops"
)

var entityIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func opIndex(batch []ops.Operation, opType, entityID string) int {
	for idx, operation := range batch {
		if operation.Type == opType && operation.EntityID == entityID {
			return idx
		}
	}
	return -1
}

func TestCommitCreatesParentsBeforeChildren(t *testing.T) {
	env := newTestEnv(t)

	folder, err := env.hub.AddNewFolder(FolderSeed{Name: "props", FolderType: "Asset"})
	if err != nil {
		t.Fatalf("add folder: %v", err)
	}
	task, err := env.hub.AddNewTask(TaskSeed{
		Name: "modeling", TaskType: "Modeling", FolderID: Parent(folder.ID()),
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	env.commit()
	if len(env.conn.sentBatches) != 1 {
		t.Fatalf("expected one batch, got %d", len(env.conn.sentBatches))
	}
	batch := env.conn.sentBatches[0]

	folderIdx := opIndex(batch, "create", folder.ID())
	taskIdx := opIndex(batch, "create", task.ID())
	if folderIdx < 0 || taskIdx < 0 {
		t.Fatalf("missing create operations: %v", batch)
	}
	if folderIdx > taskIdx {
		t.Fatalf("folder create must precede task create")
	}

	if !entityIDPattern.MatchString(task.ID()) {
		t.Fatalf("task id %q is not 32 hex chars", task.ID())
	}
	if batch[taskIdx].Data["folderId"] != folder.ID() {
		t.Fatalf("task create does not reference folder: %v", batch[taskIdx].Data)
	}
	if task.Created() || folder.Created() {
		t.Fatalf("commit must clear the created flag")
	}

	env.commit()
	if len(env.conn.sentBatches) != 1 {
		t.Fatalf("second commit must be a no-op, got %d batches", len(env.conn.sentBatches))
	}
}

func TestCommitDeletesChildrenBeforeParents(t *testing.T) {
	env := newTestEnv(t)

	if err := env.hub.DeleteEntity(env.folder(assetsFolderID)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	env.commit()

	if len(env.conn.sentBatches) != 1 {
		t.Fatalf("expected one batch, got %d", len(env.conn.sentBatches))
	}
	batch := env.conn.sentBatches[0]

	taskIdx := opIndex(batch, "delete", modelingTaskID)
	charsIdx := opIndex(batch, "delete", charsFolderID)
	assetsIdx := opIndex(batch, "delete", assetsFolderID)
	if taskIdx < 0 || charsIdx < 0 || assetsIdx < 0 {
		t.Fatalf("missing delete operations: %v", batch)
	}
	if !(taskIdx < charsIdx && charsIdx < assetsIdx) {
		t.Fatalf("deletes must run children first, got task=%d chars=%d assets=%d",
			taskIdx, charsIdx, assetsIdx)
	}

	for _, id := range []string{assetsFolderID, charsFolderID, modelingTaskID} {
		if env.hub.Entity(id) != nil {
			t.Fatalf("entity %s still cached after delete", id)
		}
	}
}

func TestCommitNeverPersistedEntitySendsNothing(t *testing.T) {
	env := newTestEnv(t)

	folder, err := env.hub.AddNewFolder(FolderSeed{Name: "scratch", FolderType: "Asset"})
	if err != nil {
		t.Fatalf("add folder: %v", err)
	}
	if err := env.hub.DeleteEntity(folder); err != nil {
		t.Fatalf("delete: %v", err)
	}
	env.commit()

	if len(env.conn.sentBatches) != 0 {
		t.Fatalf("created-then-deleted entity must not reach the server: %v",
			env.conn.sentBatches)
	}
	if env.hub.Entity(folder.ID()) != nil {
		t.Fatalf("entity still cached")
	}
}

func TestCommitReparentBeforeDeletingOldParent(t *testing.T) {
	env := newTestEnv(t)
	chars := env.folder(charsFolderID)

	chars.SetParentID(shotsFolderID)
	if err := env.hub.DeleteEntity(env.folder(assetsFolderID)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	env.commit()

	batch := env.conn.sentBatches[0]
	updateIdx := opIndex(batch, "update", charsFolderID)
	deleteIdx := opIndex(batch, "delete", assetsFolderID)
	if updateIdx < 0 || deleteIdx < 0 {
		t.Fatalf("missing operations: %v", batch)
	}
	if updateIdx > deleteIdx {
		t.Fatalf("reparent update must precede old parent delete")
	}
	if batch[updateIdx].Data["parentId"] != shotsFolderID {
		t.Fatalf("unexpected update payload: %v", batch[updateIdx].Data)
	}

	if env.hub.Entity(charsFolderID) == nil {
		t.Fatalf("moved folder must survive the delete")
	}
	if parentID, _ := chars.ParentID().ID(); parentID != shotsFolderID {
		t.Fatalf("unexpected parent after commit: %s", parentID)
	}
	if changes := chars.Changes(); len(changes) != 0 {
		t.Fatalf("changes not locked after commit: %v", changes)
	}
}

func TestCommitCreatesAncestorChainBeforeUpdate(t *testing.T) {
	env := newTestEnv(t)

	outer, err := env.hub.AddNewFolder(FolderSeed{Name: "outer", FolderType: "Asset"})
	if err != nil {
		t.Fatalf("add outer: %v", err)
	}
	inner, err := env.hub.AddNewFolder(FolderSeed{
		Name: "inner", FolderType: "Asset", ParentID: Parent(outer.ID()),
	})
	if err != nil {
		t.Fatalf("add inner: %v", err)
	}
	env.folder(charsFolderID).SetParentID(inner.ID())

	env.commit()
	batch := env.conn.sentBatches[0]

	outerIdx := opIndex(batch, "create", outer.ID())
	innerIdx := opIndex(batch, "create", inner.ID())
	updateIdx := opIndex(batch, "update", charsFolderID)
	if outerIdx < 0 || innerIdx < 0 || updateIdx < 0 {
		t.Fatalf("missing operations: %v", batch)
	}
	if !(outerIdx < innerIdx && innerIdx < updateIdx) {
		t.Fatalf("ancestor chain must be created root first before the update, got outer=%d inner=%d update=%d",
			outerIdx, innerIdx, updateIdx)
	}
}

func TestCommitDefersRemovalOfReferencedTypes(t *testing.T) {
	env := newTestEnv(t)
	project, err := env.hub.Project(env.ctx)
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	// "Modeling" is still referenced by the modeling task, so its
	// removal must wait until the task switched to "Rigging".
	project.SetTaskTypes([]TypeDef{{Name: "Rigging"}})
	env.taskEntity(modelingTaskID).SetTaskType("Rigging")

	env.commit()

	if len(env.conn.projectPatches) != 2 {
		t.Fatalf("expected pre and post project patches, got %d", len(env.conn.projectPatches))
	}
	pre, ok := env.conn.projectPatches[0]["taskTypes"].([]TypeDef)
	if !ok || len(pre) != 2 {
		t.Fatalf("pre patch must keep the referenced type: %v", env.conn.projectPatches[0])
	}
	post, ok := env.conn.projectPatches[1]["taskTypes"].([]TypeDef)
	if !ok || len(post) != 1 || post[0].Name != "Rigging" {
		t.Fatalf("post patch must apply the real removal: %v", env.conn.projectPatches[1])
	}

	if len(env.conn.sentBatches) != 1 {
		t.Fatalf("expected one operation batch, got %d", len(env.conn.sentBatches))
	}
	update := env.conn.sentBatches[0][0]
	if update.Type != "update" || update.Data["taskType"] != "Rigging" {
		t.Fatalf("task type update missing: %v", update)
	}
}

func TestCommitUnreferencedTypeRemovalIsSinglePatch(t *testing.T) {
	env := newTestEnv(t)
	project, err := env.hub.Project(env.ctx)
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	project.SetFolderTypes([]TypeDef{{Name: "Asset"}, {Name: "Shot"}, {Name: "Sequence"}})
	env.commit()

	if len(env.conn.projectPatches) != 1 {
		t.Fatalf("expected a single project patch, got %d", len(env.conn.projectPatches))
	}
	types, ok := env.conn.projectPatches[0]["folderTypes"].([]TypeDef)
	if !ok || len(types) != 3 {
		t.Fatalf("unexpected folder types patch: %v", env.conn.projectPatches[0])
	}
	if types[2].Icon != "folder" {
		t.Fatalf("new folder type must get the default icon, got %q", types[2].Icon)
	}
}

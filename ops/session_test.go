package ops

import (
	"context"
	"testing"
)

type sentBatch struct {
	project    string
	operations []Operation
}

type fakeSender struct {
	batches []sentBatch
	failAll bool
}

func (s *fakeSender) SendOperations(_ context.Context, projectName string, operations []Operation, _ bool) ([]Result, error) {
	batch := sentBatch{project: projectName}
	batch.operations = append(batch.operations, operations...)
	s.batches = append(s.batches, batch)
	results := make([]Result, 0, len(operations))
	for _, operation := range operations {
		results = append(results, Result{
			ID: operation.ID, Type: operation.Type,
			EntityID: operation.EntityID, Success: !s.failAll,
		})
	}
	return results, nil
}

func TestSessionCommitGroupsByProjectInOrder(t *testing.T) {
	sender := &fakeSender{}
	session := NewSession(sender)

	session.CreateFolder("alpha", FolderData{Name: "a", FolderType: "Asset"})
	session.CreateFolder("beta", FolderData{Name: "b", FolderType: "Asset"})
	session.CreateFolder("alpha", FolderData{Name: "c", FolderType: "Asset"})

	if err := session.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(sender.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(sender.batches))
	}
	if sender.batches[0].project != "alpha" || sender.batches[1].project != "beta" {
		t.Fatalf("projects must keep first-appearance order: %v", sender.batches)
	}
	if len(sender.batches[0].operations) != 2 {
		t.Fatalf("alpha batch must carry both operations")
	}
	if session.Len() != 0 {
		t.Fatalf("commit must consume operations, %d left", session.Len())
	}
}

func TestSessionNestedReleaseOrder(t *testing.T) {
	session := NewSession(&fakeSender{})

	folder := NewCreateOperation("demo", "folder", map[string]any{"name": "f"})
	task := NewCreateOperation("demo", "task", map[string]any{"name": "t"})
	workfile := NewCreateOperation("demo", "workfile", map[string]any{"path": "/w"})

	session.AddNested(task, folder.ID())
	session.AddNested(workfile, task.ID())
	if session.Len() != 0 {
		t.Fatalf("parked operations must not be pending")
	}

	session.Add(folder)

	pending := session.Operations()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending operations, got %d", len(pending))
	}
	if pending[0] != folder || pending[1] != task || pending[2] != workfile {
		t.Fatalf("nested operations must follow their parent transitively")
	}
}

func TestSessionCommitRejectsOrphanedNested(t *testing.T) {
	session := NewSession(&fakeSender{})
	task := NewCreateOperation("demo", "task", map[string]any{"name": "t"})
	session.AddNested(task, "never-added")

	if err := session.Commit(context.Background()); err == nil {
		t.Fatalf("orphaned nested operation must fail the commit")
	}
}

func TestSessionSkipsEmptyUpdates(t *testing.T) {
	sender := &fakeSender{}
	session := NewSession(sender)

	session.UpdateFolder("demo", "f1", map[string]any{})
	session.UpdateFolder("demo", "f2", map[string]any{"name": "renamed"})

	if err := session.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(sender.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(sender.batches))
	}
	operations := sender.batches[0].operations
	if len(operations) != 1 || operations[0].EntityID != "f2" {
		t.Fatalf("empty update must be dropped: %v", operations)
	}
}

func TestUpdateRemovedValueSerializesAsNull(t *testing.T) {
	operation := NewUpdateOperation("demo", "folder", "f1", map[string]any{
		"label": RemovedValue,
		"name":  "kept",
	})

	data := operation.UpdateData()
	value, present := data["label"]
	if !present || value != nil {
		t.Fatalf("removed value must serialize as explicit null: %v", data)
	}
	if data["name"] != "kept" {
		t.Fatalf("plain values must pass through: %v", data)
	}
}

func TestSessionRemoveAndClear(t *testing.T) {
	session := NewSession(&fakeSender{})
	first := session.CreateFolder("demo", FolderData{Name: "a", FolderType: "Asset"})
	session.CreateFolder("demo", FolderData{Name: "b", FolderType: "Asset"})

	session.Remove(first)
	if session.Len() != 1 {
		t.Fatalf("remove must drop exactly one operation")
	}
	session.Clear()
	if session.Len() != 0 {
		t.Fatalf("clear must drop everything")
	}
}

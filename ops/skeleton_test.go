package ops

import (
	"reflect"
	"regexp"
	"testing"
)

var entityIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewFolderDataMintsID(t *testing.T) {
	data := NewFolderData(FolderData{Name: "props", FolderType: "Asset"})

	id, ok := data["id"].(string)
	if !ok || !entityIDPattern.MatchString(id) {
		t.Fatalf("expected minted 32 hex id, got %v", data["id"])
	}
	if _, present := data["parentId"]; present {
		t.Fatalf("root folders must omit parentId: %v", data)
	}
	if data["attrib"] == nil || data["data"] == nil {
		t.Fatalf("attrib and data must serialize as empty maps: %v", data)
	}
}

func TestNewTaskDataKeepsProvidedID(t *testing.T) {
	data := NewTaskData(TaskData{
		Name: "modeling", TaskType: "Modeling",
		FolderID: "f1", EntityID: "deadbeefdeadbeefdeadbeefdeadbeef",
		Assignees: []string{"artist"},
	})

	if data["id"] != "deadbeefdeadbeefdeadbeefdeadbeef" {
		t.Fatalf("provided id must be kept: %v", data["id"])
	}
	if data["folderId"] != "f1" {
		t.Fatalf("missing folder reference: %v", data)
	}
	if !reflect.DeepEqual(data["assignees"], []string{"artist"}) {
		t.Fatalf("assignees lost: %v", data)
	}
}

func TestNewHeroVersionDataNegatesVersion(t *testing.T) {
	data := NewHeroVersionData(VersionData{Version: 3, ProductID: "p1"})
	if data["version"] != -3 {
		t.Fatalf("hero version must be negative, got %v", data["version"])
	}

	data = NewHeroVersionData(VersionData{Version: -2, ProductID: "p1"})
	if data["version"] != -2 {
		t.Fatalf("already negative version must stay, got %v", data["version"])
	}
}

func TestNewWorkfileDataDerivesExtension(t *testing.T) {
	data := NewWorkfileData(WorkfileData{
		Filepath:    "/work/shot010/anim_v003.blend",
		TaskID:      "t1",
		Description: "blocking pass",
	})

	attrib, ok := data["attrib"].(map[string]any)
	if !ok {
		t.Fatalf("missing attrib: %v", data)
	}
	if attrib["extension"] != ".blend" {
		t.Fatalf("extension not derived: %v", attrib)
	}
	if attrib["description"] != "blocking pass" {
		t.Fatalf("description must land in attrib: %v", attrib)
	}
}

func TestPrepareChanges(t *testing.T) {
	oldEntity := map[string]any{
		"name":   "chars",
		"label":  "Chars",
		"attrib": map[string]any{"fps": 25.0, "priority": "low"},
	}
	newEntity := map[string]any{
		"name":   "characters",
		"label":  "Chars",
		"attrib": map[string]any{"fps": 25.0, "priority": "high"},
	}

	changes := PrepareChanges(oldEntity, newEntity)
	want := map[string]any{
		"name":   "characters",
		"attrib": map[string]any{"priority": "high"},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("unexpected changes %v", changes)
	}

	if changes := PrepareChanges(oldEntity, oldEntity); len(changes) != 0 {
		t.Fatalf("identical payloads must produce no changes: %v", changes)
	}
}

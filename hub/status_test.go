package hub

import (
	"reflect"
	"testing"
)

func newCatalog(t *testing.T) *StatusList {
	t.Helper()
	list, err := NewStatusList([]StatusDef{
		{Name: "Not ready", State: "not_started", Color: "#434a56"},
		{Name: "In Progress", State: "in_progress", Color: "#3498db"},
		{Name: "Done", State: "done", Color: "#00f0b4"},
	})
	if err != nil {
		t.Fatalf("new status list: %v", err)
	}
	return list
}

func TestSlugifyName(t *testing.T) {
	cases := map[string]string{
		"In Progress":  "in_progress",
		"in-progress":  "in_progress",
		"IN_PROGRESS":  "in_progress",
		"Not ready!":   "not_ready",
		"Review/Final": "review_final",
		"  done  ":     "done",
	}
	for input, want := range cases {
		if got := SlugifyName(input); got != want {
			t.Fatalf("SlugifyName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestStatusIdentityIsSlugified(t *testing.T) {
	list := newCatalog(t)

	status := list.GetBySlugifiedName("in-progress")
	if status == nil || status.Name() != "In Progress" {
		t.Fatalf("slug variant did not resolve: %v", status)
	}
	if other := list.GetBySlugifiedName("IN PROGRESS"); other != status {
		t.Fatalf("case variant resolved to a different status")
	}
}

func TestStatusValidation(t *testing.T) {
	if _, err := NewStatus(StatusDef{Name: "Broken", State: "unknown"}); err == nil {
		t.Fatalf("invalid state must be rejected")
	}
	if _, err := NewStatus(StatusDef{Name: "Broken", Color: "red"}); err == nil {
		t.Fatalf("invalid color must be rejected")
	}
	if _, err := NewStatus(StatusDef{Name: "Broken", Scope: []string{"asset"}}); err == nil {
		t.Fatalf("invalid scope must be rejected")
	}

	status, err := NewStatus(StatusDef{Name: "Review", Color: "#A1B2C3"})
	if err != nil {
		t.Fatalf("new status: %v", err)
	}
	if status.Color() != "#a1b2c3" {
		t.Fatalf("color must be lower cased, got %q", status.Color())
	}
	if status.State() != StateInProgress {
		t.Fatalf("missing state must default to in_progress, got %q", status.State())
	}
}

func TestStatusListInsertMovesAndReindexes(t *testing.T) {
	list := newCatalog(t)
	done := list.Get("Done")

	list.Insert(0, done)

	names := make([]string, 0, list.Len())
	for _, status := range list.Statuses() {
		names = append(names, status.Name())
	}
	want := []string{"Done", "Not ready", "In Progress"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected order %v", names)
	}
	for idx, status := range list.Statuses() {
		if status.Index() != idx {
			t.Fatalf("status %q has index %d, want %d", status.Name(), status.Index(), idx)
		}
	}
	if !list.Changed() {
		t.Fatalf("reorder must count as change")
	}
}

func TestStatusListMoveToEnd(t *testing.T) {
	list := newCatalog(t)
	notReady := list.Get("Not ready")

	list.Append(notReady)

	statuses := list.Statuses()
	if statuses[len(statuses)-1] != notReady {
		t.Fatalf("status not moved to the end")
	}
	for idx, status := range statuses {
		if status.Index() != idx {
			t.Fatalf("status %q has index %d, want %d", status.Name(), status.Index(), idx)
		}
	}
}

func TestStatusRenameCarriesOriginalName(t *testing.T) {
	list := newCatalog(t)
	done := list.Get("Done")

	done.SetName("Finished")

	def := done.ToDef()
	if def.Name != "Finished" || def.OriginalName != "Done" {
		t.Fatalf("rename must carry original name, got %+v", def)
	}

	done.Lock()
	if def := done.ToDef(); def.OriginalName != "" {
		t.Fatalf("original name must be dropped after lock, got %+v", def)
	}
}

func TestStatusScopeStrippedForOldServers(t *testing.T) {
	list := newCatalog(t)
	if err := list.Get("Done").SetScope([]string{"folder", "task"}); err != nil {
		t.Fatalf("set scope: %v", err)
	}

	list.setScopeSupported(false)
	for _, def := range list.ToDefs() {
		if def.Scope != nil {
			t.Fatalf("scope must be stripped for old servers: %+v", def)
		}
	}

	list.setScopeSupported(true)
	defs := list.ToDefs()
	if !reflect.DeepEqual(defs[2].Scope, []string{"folder", "task"}) {
		t.Fatalf("narrowed scope lost: %+v", defs[2])
	}
	// A never narrowed scope serializes as every known type.
	if len(defs[0].Scope) != 6 {
		t.Fatalf("full scope must list every entity type: %+v", defs[0])
	}
}

func TestStatusListSetAlwaysCountsAsChanged(t *testing.T) {
	list := newCatalog(t)
	defs := list.ToDefs()
	for idx := range defs {
		defs[idx].Scope = nil
		defs[idx].OriginalName = ""
	}

	if err := list.Set(defs); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !list.Changed() {
		t.Fatalf("replacing the catalog must count as change even when equal")
	}

	list.Lock()
	if list.Changed() {
		t.Fatalf("lock must clear the change state")
	}
}

func TestStatusRemoveReindexes(t *testing.T) {
	list := newCatalog(t)
	if err := list.RemoveByName("Not ready"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if list.Len() != 2 {
		t.Fatalf("unexpected length %d", list.Len())
	}
	if list.Statuses()[0].Index() != 0 || list.Statuses()[1].Index() != 1 {
		t.Fatalf("indexes not compacted after removal")
	}
	if !list.Changed() {
		t.Fatalf("removal must count as change")
	}
	if err := list.RemoveByName("Not ready"); err == nil {
		t.Fatalf("removing a missing status must fail")
	}
}

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"trackline/client"
	"trackline/hub"
	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/repo"
	"trackline/ops"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("demo")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func TestHubCommitRoundTrip(t *testing.T) {
	srv := newTestServer(t, "")
	ctx := context.Background()
	cl := client.New(srv.URL)

	version, err := cl.ServerVersion(ctx)
	if err != nil {
		t.Fatalf("server version: %v", err)
	}
	if !version.AtLeast(1, 5) {
		t.Fatalf("unexpected server version %+v", version)
	}

	h := hub.New(cl, "demo")
	if err := h.FillProjectFromServer(ctx); err != nil {
		t.Fatalf("fill project: %v", err)
	}
	folder, err := h.AddNewFolder(hub.FolderSeed{
		Name: "assets", FolderType: "Asset", ParentID: hub.RootParent(),
	})
	if err != nil {
		t.Fatalf("add folder: %v", err)
	}
	task, err := h.AddNewTask(hub.TaskSeed{
		Name: "modeling", TaskType: "Modeling", FolderID: hub.Parent(folder.ID()),
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if err := h.CommitChanges(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A fresh hub against the same server sees the committed state.
	fresh := hub.New(client.New(srv.URL), "demo")
	if err := fresh.FillProjectFromServer(ctx); err != nil {
		t.Fatalf("fill fresh project: %v", err)
	}
	if err := fresh.FetchHierarchyEntities(ctx); err != nil {
		t.Fatalf("fetch hierarchy: %v", err)
	}
	fetchedFolder, err := fresh.FolderByID(ctx, folder.ID(), false)
	if err != nil {
		t.Fatalf("folder by id: %v", err)
	}
	if fetchedFolder == nil {
		t.Fatalf("committed folder not found")
	}
	if fetchedFolder.Path() != "/assets" {
		t.Fatalf("unexpected folder path %q", fetchedFolder.Path())
	}
	fetchedTask, err := fresh.TaskByID(ctx, task.ID(), true)
	if err != nil {
		t.Fatalf("task by id: %v", err)
	}
	if fetchedTask == nil || fetchedTask.Name() != "modeling" {
		t.Fatalf("committed task not found: %+v", fetchedTask)
	}
}

func TestOperationBatchRollsBack(t *testing.T) {
	srv := newTestServer(t, "")
	ctx := context.Background()
	cl := client.New(srv.URL)

	folderOp := ops.NewCreateOperation("demo", "folder", map[string]any{
		"name": "assets", "folderType": "Asset",
	})
	folderBody, _ := folderOp.Body()
	badOp := ops.NewCreateOperation("demo", "folder", map[string]any{
		"name": "broken", "folderType": "NoSuchType",
	})
	badBody, _ := badOp.Body()

	results, err := cl.SendOperations(ctx, "demo", []ops.Operation{folderBody, badBody}, false)
	if err != nil {
		t.Fatalf("send operations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Success || results[1].Success {
		t.Fatalf("unexpected results %+v", results)
	}

	fetched, err := cl.GetFolderByID(ctx, "demo", folderBody.EntityID, nil)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if fetched != nil {
		t.Fatalf("rolled back folder must not persist: %+v", fetched)
	}
}

func TestProjectPatchRoundTrip(t *testing.T) {
	srv := newTestServer(t, "")
	ctx := context.Background()
	cl := client.New(srv.URL)

	if err := cl.UpdateProject(ctx, "demo", map[string]any{"code": "dm2"}); err != nil {
		t.Fatalf("update project: %v", err)
	}
	project, err := cl.GetProject(ctx, "demo")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project == nil || project.Code != "dm2" {
		t.Fatalf("patched code not visible: %+v", project)
	}

	missing, err := cl.GetProject(ctx, "no-such-project")
	if err != nil {
		t.Fatalf("get missing project: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing project must yield nil, got %+v", missing)
	}
}

func TestAuthEnforcement(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, secret)
	ctx := context.Background()

	key := domain.APIKey{
		ID:      ops.NewID(),
		ActorID: "robot",
		Name:    "test key",
		KeyHash: repo.HashAPIKey("sekret"),
	}
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	// No credentials is rejected outside the exempt endpoints.
	res, err := http.Get(srv.URL + "/api/projects/demo")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// Info stays open so clients can probe the version first.
	cl := client.New(srv.URL)
	if _, err := cl.ServerVersion(ctx); err != nil {
		t.Fatalf("unauthenticated info: %v", err)
	}

	withKey := client.New(srv.URL)
	withKey.APIKey = "sekret"
	if _, err := withKey.GetProject(ctx, "demo"); err != nil {
		t.Fatalf("api key auth: %v", err)
	}

	token, err := IssueToken(secret, "human")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	withToken := client.New(srv.URL)
	withToken.BearerToken = token
	if _, err := withToken.GetProject(ctx, "demo"); err != nil {
		t.Fatalf("bearer auth: %v", err)
	}
}

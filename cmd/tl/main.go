package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackline/client"
	"trackline/hub"
	"trackline/internal/app"
	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/repo"
	"trackline/internal/server"
	"trackline/ops"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Trackline CLI",
	Long: `Trackline is a small production tracking server and toolset.
A workspace holds one SQLite database and a trackline.yml config. The
server exposes the REST API that the client library and the hub build
on: folders, tasks, products, versions and transactional operation
batches against one project.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project name (overrides config default)")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:5420", "server URL for remote commands")
	rootCmd.PersistentFlags().String("api-key", "", "API key for remote commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(folderCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(entityCmd())
	rootCmd.AddCommand(opsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(statusCmd())
}

func initCmd() *cobra.Command {
	var projectName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Writes a default trackline.yml, creates the database and seeds the configured project.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(projectName)), 0o644); err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), workspace, projectName)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Seed(cmd.Context(), viper.GetString("actor-id")); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace in %s (config %s)\n", workspace, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectName, "project-name", "trackline", "name of the seeded project")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectPatchCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Code", "Library", "Active"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Name, p.Code, p.Library, p.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, nil, targetProject(e))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectPatchCmd() *cobra.Command {
	var code string
	var active, library bool
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Patch project fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			if cmd.Flags().Changed("code") {
				fields["code"] = code
			}
			if cmd.Flags().Changed("active") {
				fields["active"] = active
			}
			if cmd.Flags().Changed("library") {
				fields["library"] = library
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to patch; pass --code, --active or --library")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.PatchProject(ctx, targetProject(e), fields, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "project code")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	cmd.Flags().BoolVar(&library, "library", false, "library flag")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project and all its entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteProject(ctx, targetProject(e))
			})
		},
	}
	return cmd
}

func folderCmd() *cobra.Command {
	folder := &cobra.Command{Use: "folder", Short: "Inspect the folder hierarchy"}
	folder.AddCommand(folderListCmd())
	folder.AddCommand(folderTreeCmd())
	return folder
}

func folderListCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var parents []string
				if parent != "" {
					parents = []string{parent}
				}
				views, err := e.ListFolders(ctx, targetProject(e), parents)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Path", "Status"})
				for _, view := range views {
					tw.AppendRow(table.Row{
						view.Entity.ID, view.Entity.Name,
						stringOrEmpty(view.Entity.FolderType), view.Path, view.Entity.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent folder id filter")
	return cmd
}

func folderTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the folder tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.ListFolders(ctx, targetProject(e), nil)
				if err != nil {
					return err
				}
				children := map[string][]engine.FolderView{}
				var roots []engine.FolderView
				for _, view := range views {
					if view.Entity.ParentID == nil {
						roots = append(roots, view)
						continue
					}
					children[*view.Entity.ParentID] = append(children[*view.Entity.ParentID], view)
				}
				fmt.Println(targetProject(e))
				for i, root := range roots {
					printFolderTree(root, children, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	task.AddCommand(taskListCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var folders []string
				if folder != "" {
					folders = []string{folder}
				}
				tasks, err := e.ListTasks(ctx, targetProject(e), folders)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Folder", "Status"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{
						t.ID, t.Name, stringOrEmpty(t.TaskType), stringOrEmpty(t.ParentID), t.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "folder id filter")
	return cmd
}

func entityCmd() *cobra.Command {
	var entityType, id string
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Show one entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			if !domain.ValidEntityType(entityType) {
				return fmt.Errorf("unknown entity type %q", entityType)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				row, err := e.GetEntityOfType(ctx, targetProject(e), id, entityType)
				if err != nil {
					return err
				}
				return printJSONOrTable(row)
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "folder", "entity type")
	cmd.Flags().StringVar(&id, "id", "", "entity id")
	return cmd
}

func opsCmd() *cobra.Command {
	o := &cobra.Command{Use: "ops", Short: "Apply operation batches"}
	o.AddCommand(opsApplyCmd())
	return o
}

type batchFile struct {
	Operations []ops.Operation `json:"operations"`
	CanFail    bool            `json:"canFail"`
}

func opsApplyCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an operation batch from a JSON file",
		Long:  "The file carries the same shape as the operations endpoint body: {\"operations\": [...], \"canFail\": false}.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var batch batchFile
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("parse %s: %w", filePath, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results, success, err := e.ApplyOperations(
					ctx, targetProject(e), batch.Operations, batch.CanFail, viper.GetString("actor-id"),
				)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(map[string]any{
					"operations": results,
					"success":    success,
				}); err != nil {
					return err
				}
				if !success {
					return fmt.Errorf("batch failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to batch JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			secret := ops.NewID()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      ops.NewID(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The secret is only printed here, the database keeps the hash.
				fmt.Printf("id: %s\nactor: %s\nkey: %s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.ActorID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "key id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				token, err := server.IssueToken(a.Config.Auth.JWTSecret, actor)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "token subject")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, targetProject(e), evtType, entityType, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Seed(ctx, viper.GetString("actor-id")); err != nil {
					return err
				}
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				secret := a.Config.Auth.JWTSecret
				if env := os.Getenv("TRACKLINE_JWT_SECRET"); env != "" {
					secret = env
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				if secret == "" {
					fmt.Println("auth disabled: no jwt_secret configured, requests run as anonymous")
				}
				fmt.Printf("Serving Trackline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5420", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

// Remote commands drive a running server through the client library and
// the hub, the same code paths external tools use.

func treeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the remote folder/task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHub(cmd.Context(), func(ctx context.Context, h *hub.Hub) error {
				if err := h.FetchHierarchyEntities(ctx); err != nil {
					return err
				}
				children := map[string][]hub.Entity{}
				var roots []hub.Entity
				for _, entity := range h.Entities() {
					if entity.EntityType() == hub.EntityTypeProject {
						continue
					}
					if entity.ParentID().IsRoot() {
						roots = append(roots, entity)
						continue
					}
					if parentID, ok := entity.ParentID().ID(); ok {
						children[parentID] = append(children[parentID], entity)
					}
				}
				fmt.Println(h.ProjectName())
				for i, root := range roots {
					printEntityTree(root, children, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	return cmd
}

func addCmd() *cobra.Command {
	add := &cobra.Command{Use: "add", Short: "Create entities on the server"}
	add.AddCommand(addFolderCmd())
	add.AddCommand(addTaskCmd())
	return add
}

func addFolderCmd() *cobra.Command {
	var folderType, parent string
	cmd := &cobra.Command{
		Use:   "folder <name>",
		Short: "Create a folder and commit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHub(cmd.Context(), func(ctx context.Context, h *hub.Hub) error {
				parentRef := hub.RootParent()
				if parent != "" {
					parentRef = hub.Parent(parent)
				}
				folder, err := h.AddNewFolder(hub.FolderSeed{
					Name: args[0], FolderType: folderType, ParentID: parentRef,
				})
				if err != nil {
					return err
				}
				if err := h.CommitChanges(ctx); err != nil {
					return err
				}
				fmt.Println(folder.ID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&folderType, "type", "Folder", "folder type")
	cmd.Flags().StringVar(&parent, "parent", "", "parent folder id (root when omitted)")
	return cmd
}

func addTaskCmd() *cobra.Command {
	var taskType, folder string
	cmd := &cobra.Command{
		Use:   "task <name>",
		Short: "Create a task and commit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if folder == "" {
				return fmt.Errorf("--folder required")
			}
			return withHub(cmd.Context(), func(ctx context.Context, h *hub.Hub) error {
				task, err := h.AddNewTask(hub.TaskSeed{
					Name: args[0], TaskType: taskType, FolderID: hub.Parent(folder),
				})
				if err != nil {
					return err
				}
				if err := h.CommitChanges(ctx); err != nil {
					return err
				}
				fmt.Println(task.ID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskType, "type", "Generic", "task type")
	cmd.Flags().StringVar(&folder, "folder", "", "folder id")
	return cmd
}

func rmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an entity and commit the removal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHub(cmd.Context(), func(ctx context.Context, h *hub.Hub) error {
				entity, err := h.GetOrFetchEntityByID(ctx, args[0], []hub.EntityType{
					hub.EntityTypeFolder, hub.EntityTypeTask,
					hub.EntityTypeProduct, hub.EntityTypeVersion,
				})
				if err != nil {
					return err
				}
				if entity == nil {
					return fmt.Errorf("entity %s not found", args[0])
				}
				if err := h.DeleteEntity(entity); err != nil {
					return err
				}
				return h.CommitChanges(ctx)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	status := &cobra.Command{Use: "status", Short: "Project statuses"}
	status.AddCommand(statusListCmd())
	return status
}

func statusListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List project statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := remoteClient()
			payload, err := cl.GetProject(cmd.Context(), remoteProject())
			if err != nil {
				return err
			}
			if payload == nil {
				return fmt.Errorf("project %s not found", remoteProject())
			}
			if viper.GetBool("json") {
				return printJSON(payload.Statuses)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "State", "Color", "Scope"})
			for _, status := range payload.Statuses {
				tw.AppendRow(table.Row{
					status.Name, status.State, status.Color, strings.Join(status.Scope, ","),
				})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func remoteClient() *client.Client {
	cl := client.New(viper.GetString("server"))
	cl.APIKey = viper.GetString("api-key")
	return cl
}

func remoteProject() string {
	if p := strings.TrimSpace(viper.GetString("project")); p != "" {
		return p
	}
	if cfg, err := config.LoadOptional(viper.GetString("workspace")); err == nil && cfg != nil {
		return cfg.Project.Name
	}
	return "trackline"
}

func withHub(ctx context.Context, fn func(context.Context, *hub.Hub) error) error {
	h := hub.New(remoteClient(), remoteProject())
	if err := h.FillProjectFromServer(ctx); err != nil {
		return err
	}
	return fn(ctx, h)
}

func printEntityTree(entity hub.Entity, children map[string][]hub.Entity, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, entityLabel(entity))
	for i, c := range children[entity.ID()] {
		printEntityTree(c, children, newPrefix, i == len(children[entity.ID()])-1)
	}
}

func entityLabel(entity hub.Entity) string {
	switch e := entity.(type) {
	case *hub.FolderEntity:
		return fmt.Sprintf("%s [%s]", e.Name(), e.FolderType())
	case *hub.TaskEntity:
		return fmt.Sprintf("%s (%s)", e.Name(), e.TaskType())
	case *hub.ProductEntity:
		return fmt.Sprintf("%s {%s}", e.Name(), e.ProductType())
	case *hub.VersionEntity:
		return fmt.Sprintf("v%03d", e.Version())
	default:
		return entity.ID()
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("project"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		if err := a.Seed(ctx, viper.GetString("actor-id")); err != nil {
			return err
		}
		return fn(ctx, a.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Engine.Repo)
	})
}

func targetProject(e engine.Engine) string {
	if p := strings.TrimSpace(viper.GetString("project")); p != "" {
		return p
	}
	return e.Config.Project.Name
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printFolderTree(view engine.FolderView, children map[string][]engine.FolderView, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	label := view.Entity.Name
	if view.Entity.FolderType != nil {
		label = fmt.Sprintf("%s [%s]", label, *view.Entity.FolderType)
	}
	fmt.Printf("%s%s%s\n", prefix, connector, label)
	for i, c := range children[view.Entity.ID] {
		printFolderTree(c, children, newPrefix, i == len(children[view.Entity.ID])-1)
	}
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"trackline/hub"
	"trackline/internal/engine"
	"trackline/internal/repo"
	"trackline/ops"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"entity still has children"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Trackline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors come back as 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Trackline API", engine.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerInfo(group)
	registerAttributes(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerFolders(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerProducts(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	registerOperations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var conflict engine.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var invalid engine.ValidationError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"): true,
		"/" + strings.TrimPrefix(path.Join(basePath, "info"), "/"):   true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Trackline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerInfo(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "info",
		Method:      http.MethodGet,
		Path:        "/info",
		Summary:     "Server name and version",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InfoResponse `json:"body"`
	}, error) {
		return &struct {
			Body InfoResponse `json:"body"`
		}{Body: InfoResponse{Name: "trackline", Version: engine.Version}}, nil
	})
}

func registerAttributes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attributes",
		Method:      http.MethodGet,
		Path:        "/attributes",
		Summary:     "List attribute schemas",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Attributes []AttributeResponse `json:"attributes"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Attributes []AttributeResponse `json:"attributes"`
			} `json:"body"`
		}{}
		out.Body.Attributes = attributeResponses(e.Config.Attributes)
		return out, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body hub.ProjectPayload `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		seed := seedFromRequest(input.Body, e.Config.Project)
		p, err := e.CreateProject(ctx, seed, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.ProjectPayload `json:"body"`
		}{Body: projectPayload(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Projects []hub.ProjectPayload `json:"projects"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Projects []hub.ProjectPayload `json:"projects"`
			} `json:"body"`
		}{}
		out.Body.Projects = make([]hub.ProjectPayload, 0, len(items))
		for _, item := range items {
			out.Body.Projects = append(out.Body.Projects, projectPayload(item))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
	}) (*struct {
		Body hub.ProjectPayload `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, nil, input.ProjectName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.ProjectPayload `json:"body"`
		}{Body: projectPayload(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_name}",
		Summary:     "Patch project fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
	}) (*struct {
		Body hub.ProjectPayload `json:"body"`
	}, error) {
		// Patch bodies are free-form field maps, decoded from the raw
		// request rather than a fixed schema.
		fields, err := fieldsFromBody(ctx)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.PatchProject(ctx, input.ProjectName, fields, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.ProjectPayload `json:"body"`
		}{Body: projectPayload(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_name}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
	}) (*struct{}, error) {
		if _, err := e.Repo.GetProject(ctx, nil, input.ProjectName); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteProject(ctx, input.ProjectName); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFolders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-folders",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}/folders",
		Summary:     "List folders",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string   `path:"project_name"`
		ParentID    []string `query:"parentId" explode:"true"`
		Fields      string   `query:"fields"`
	}) (*struct {
		Body struct {
			Folders []hub.FolderPayload `json:"folders"`
		} `json:"body"`
	}, error) {
		// The fields parameter is accepted for compatibility; responses
		// always carry the full payload.
		views, err := e.ListFolders(ctx, input.ProjectName, input.ParentID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Folders []hub.FolderPayload `json:"folders"`
			} `json:"body"`
		}{}
		out.Body.Folders = make([]hub.FolderPayload, 0, len(views))
		for _, view := range views {
			out.Body.Folders = append(out.Body.Folders, folderPayload(view))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-folder",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}/folders/{folder_id}",
		Summary:     "Get folder",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
		FolderID    string `path:"folder_id"`
		Fields      string `query:"fields"`
	}) (*struct {
		Body hub.FolderPayload `json:"body"`
	}, error) {
		view, err := e.FolderViewByID(ctx, input.ProjectName, input.FolderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.FolderPayload `json:"body"`
		}{Body: folderPayload(view)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string   `path:"project_name"`
		FolderID    []string `query:"folderId" explode:"true"`
		Fields      string   `query:"fields"`
	}) (*struct {
		Body struct {
			Tasks []hub.TaskPayload `json:"tasks"`
		} `json:"body"`
	}, error) {
		rows, err := e.ListTasks(ctx, input.ProjectName, input.FolderID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Tasks []hub.TaskPayload `json:"tasks"`
			} `json:"body"`
		}{}
		out.Body.Tasks = make([]hub.TaskPayload, 0, len(rows))
		for _, row := range rows {
			out.Body.Tasks = append(out.Body.Tasks, taskPayload(row))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
		TaskID      string `path:"task_id"`
		Fields      string `query:"fields"`
	}) (*struct {
		Body hub.TaskPayload `json:"body"`
	}, error) {
		row, err := e.GetEntityOfType(ctx, input.ProjectName, input.TaskID, "task")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.TaskPayload `json:"body"`
		}{Body: taskPayload(row)}, nil
	})
}

func registerProducts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}/products/{product_id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
		ProductID   string `path:"product_id"`
		Fields      string `query:"fields"`
	}) (*struct {
		Body hub.ProductPayload `json:"body"`
	}, error) {
		row, err := e.GetEntityOfType(ctx, input.ProjectName, input.ProductID, "product")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.ProductPayload `json:"body"`
		}{Body: productPayload(row)}, nil
	})
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/projects/{project_name}/versions/{version_id}",
		Summary:     "Get version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectName string `path:"project_name"`
		VersionID   string `path:"version_id"`
		Fields      string `query:"fields"`
	}) (*struct {
		Body hub.VersionPayload `json:"body"`
	}, error) {
		row, err := e.GetEntityOfType(ctx, input.ProjectName, input.VersionID, "version")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body hub.VersionPayload `json:"body"`
		}{Body: versionPayload(row)}, nil
	})
}

func registerOperations(api huma.API, e engine.Engine) {
	type operationsRequest struct {
		Operations []ops.Operation `json:"operations"`
		CanFail    bool            `json:"canFail"`
	}
	type operationsResponse struct {
		Operations []ops.Result `json:"operations"`
		Success    bool         `json:"success"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "apply-operations",
		Method:      http.MethodPost,
		Path:        "/projects/{project_name}/operations",
		Summary:     "Apply an operation batch",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectName string            `path:"project_name"`
		Body        operationsRequest `json:"body"`
	}) (*struct {
		Body operationsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// Per-operation failures are reported in the response body with
		// status 200, callers inspect each result.
		results, success, err := e.ApplyOperations(ctx, input.ProjectName, input.Body.Operations, input.Body.CanFail, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body operationsResponse `json:"body"`
		}{Body: operationsResponse{Operations: results, Success: success}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List latest events",
	}, func(ctx context.Context, input *struct {
		Limit       int    `query:"limit"`
		ProjectName string `query:"project"`
		Type        string `query:"type"`
		EntityType  string `query:"entityType"`
		EntityID    string `query:"entityId"`
	}) (*struct {
		Body struct {
			Events []EventResponse `json:"events"`
		} `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		rows, err := e.Repo.LatestEvents(ctx, limit, input.ProjectName, input.Type, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Events []EventResponse `json:"events"`
			} `json:"body"`
		}{}
		out.Body.Events = make([]EventResponse, 0, len(rows))
		for _, row := range rows {
			out.Body.Events = append(out.Body.Events, eventResponse(row))
		}
		return out, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func fieldsFromBody(ctx context.Context) (map[string]any, error) {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return nil, errors.New("body required")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.New("no fields to patch")
	}
	return fields, nil
}

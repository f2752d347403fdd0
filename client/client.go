// Package client is the HTTP implementation of the server connection
// used by the hub and the operations session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackline/hub"
	"trackline/ops"
)

// Client talks to a trackline server over its REST API.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

var (
	_ hub.Connection = (*Client)(nil)
	_ ops.Sender     = (*Client)(nil)
)

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether the error is a 404 API response.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type attributeDef struct {
	Name  string              `json:"name"`
	Scope []string            `json:"scope"`
	Data  hub.AttributeSchema `json:"data"`
}

// ServerVersion reads the version reported by GET /api/info.
func (c *Client) ServerVersion(ctx context.Context) (hub.ServerVersion, error) {
	var info serverInfo
	if err := c.do(ctx, http.MethodGet, "api/info", nil, &info); err != nil {
		return hub.ServerVersion{}, err
	}
	var version hub.ServerVersion
	if _, err := fmt.Sscanf(info.Version, "%d.%d.%d", &version.Major, &version.Minor, &version.Patch); err != nil {
		return hub.ServerVersion{}, fmt.Errorf("parse server version %q: %w", info.Version, err)
	}
	return version, nil
}

// AttributesForType lists the attribute schemas scoped to one entity
// type.
func (c *Client) AttributesForType(ctx context.Context, entityType hub.EntityType) (map[string]hub.AttributeSchema, error) {
	var resp struct {
		Attributes []attributeDef `json:"attributes"`
	}
	if err := c.do(ctx, http.MethodGet, "api/attributes", nil, &resp); err != nil {
		return nil, err
	}
	out := map[string]hub.AttributeSchema{}
	for _, attr := range resp.Attributes {
		for _, scope := range attr.Scope {
			if scope == string(entityType) {
				out[attr.Name] = attr.Data
				break
			}
		}
	}
	return out, nil
}

// DefaultFieldsForType returns the fields fetched for an entity type
// when the caller does not narrow them.
func (c *Client) DefaultFieldsForType(entityType hub.EntityType) []string {
	switch entityType {
	case hub.EntityTypeFolder:
		return []string{
			"id", "name", "label", "folderType", "parentId", "path",
			"status", "tags", "ownAttrib", "thumbnailId", "active",
		}
	case hub.EntityTypeTask:
		return []string{
			"id", "name", "label", "taskType", "folderId",
			"status", "tags", "assignees", "ownAttrib", "thumbnailId", "active",
		}
	case hub.EntityTypeProduct:
		return []string{
			"id", "name", "productType", "folderId", "tags", "attrib", "active",
		}
	case hub.EntityTypeVersion:
		return []string{
			"id", "version", "productId", "taskId",
			"status", "tags", "attrib", "thumbnailId", "active",
		}
	default:
		return []string{"id", "name"}
	}
}

// GetProject fetches a project, nil when it does not exist.
func (c *Client) GetProject(ctx context.Context, projectName string) (*hub.ProjectPayload, error) {
	var payload hub.ProjectPayload
	err := c.do(ctx, http.MethodGet, c.projectPath(projectName, ""), nil, &payload)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetFolders lists folders of a project, optionally narrowed to the
// children of the given parents. The project name acts as the parent id
// of root folders.
func (c *Client) GetFolders(ctx context.Context, projectName string, parentIDs, fields []string) ([]hub.FolderPayload, error) {
	query := url.Values{}
	for _, parentID := range parentIDs {
		query.Add("parentId", parentID)
	}
	addFieldsParam(query, fields)
	var resp struct {
		Folders []hub.FolderPayload `json:"folders"`
	}
	endpoint := withQuery(c.projectPath(projectName, "folders"), query)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

// GetTasks lists tasks of a project, optionally narrowed to folders.
func (c *Client) GetTasks(ctx context.Context, projectName string, folderIDs, fields []string) ([]hub.TaskPayload, error) {
	query := url.Values{}
	for _, folderID := range folderIDs {
		query.Add("folderId", folderID)
	}
	addFieldsParam(query, fields)
	var resp struct {
		Tasks []hub.TaskPayload `json:"tasks"`
	}
	endpoint := withQuery(c.projectPath(projectName, "tasks"), query)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// GetFolderByID fetches one folder, nil when it does not exist.
func (c *Client) GetFolderByID(ctx context.Context, projectName, folderID string, fields []string) (*hub.FolderPayload, error) {
	var payload hub.FolderPayload
	if ok, err := c.getEntity(ctx, projectName, "folders", folderID, fields, &payload); !ok {
		return nil, err
	}
	return &payload, nil
}

// GetTaskByID fetches one task, nil when it does not exist.
func (c *Client) GetTaskByID(ctx context.Context, projectName, taskID string, fields []string) (*hub.TaskPayload, error) {
	var payload hub.TaskPayload
	if ok, err := c.getEntity(ctx, projectName, "tasks", taskID, fields, &payload); !ok {
		return nil, err
	}
	return &payload, nil
}

// GetProductByID fetches one product, nil when it does not exist.
func (c *Client) GetProductByID(ctx context.Context, projectName, productID string, fields []string) (*hub.ProductPayload, error) {
	var payload hub.ProductPayload
	if ok, err := c.getEntity(ctx, projectName, "products", productID, fields, &payload); !ok {
		return nil, err
	}
	return &payload, nil
}

// GetVersionByID fetches one version, nil when it does not exist.
func (c *Client) GetVersionByID(ctx context.Context, projectName, versionID string, fields []string) (*hub.VersionPayload, error) {
	var payload hub.VersionPayload
	if ok, err := c.getEntity(ctx, projectName, "versions", versionID, fields, &payload); !ok {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) getEntity(ctx context.Context, projectName, collection, entityID string, fields []string, out any) (bool, error) {
	query := url.Values{}
	addFieldsParam(query, fields)
	endpoint := withQuery(
		c.projectPath(projectName, collection+"/"+url.PathEscape(entityID)), query,
	)
	err := c.do(ctx, http.MethodGet, endpoint, nil, out)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type operationsRequest struct {
	Operations []ops.Operation `json:"operations"`
	CanFail    bool            `json:"canFail"`
}

type operationsResponse struct {
	Operations []ops.Result `json:"operations"`
	Success    bool         `json:"success"`
}

// SendOperations posts one transactional operation batch. With canFail
// unset the server rolls the whole batch back on the first failure.
func (c *Client) SendOperations(ctx context.Context, projectName string, operations []ops.Operation, canFail bool) ([]ops.Result, error) {
	body := operationsRequest{Operations: operations, CanFail: canFail}
	var resp operationsResponse
	endpoint := c.projectPath(projectName, "operations")
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	return resp.Operations, nil
}

// UpdateProject patches project level fields.
func (c *Client) UpdateProject(ctx context.Context, projectName string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, c.projectPath(projectName, ""), fields, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	requestURL := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectName, p string) string {
	endpoint := fmt.Sprintf("api/projects/%s", url.PathEscape(projectName))
	if p == "" {
		return endpoint
	}
	return endpoint + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func addFieldsParam(query url.Values, fields []string) {
	if len(fields) > 0 {
		query.Set("fields", strings.Join(fields, ","))
	}
}

func withQuery(endpoint string, query url.Values) string {
	if len(query) == 0 {
		return endpoint
	}
	return endpoint + "?" + query.Encode()
}

package server

import (
	"encoding/json"

	"trackline/hub"
	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string          `json:"name"`
	Code        string          `json:"code"`
	Library     bool            `json:"library,omitempty"`
	FolderTypes []hub.TypeDef   `json:"folderTypes,omitempty"`
	TaskTypes   []hub.TypeDef   `json:"taskTypes,omitempty"`
	Statuses    []hub.StatusDef `json:"statuses,omitempty"`
	Attrib      map[string]any  `json:"attrib,omitempty"`
}

// seedFromRequest fills catalog gaps from the configured defaults, so a
// bare name and code is enough to create a usable project.
func seedFromRequest(req CreateProjectRequest, defaults config.ProjectSeed) config.ProjectSeed {
	seed := config.ProjectSeed{
		Name:    req.Name,
		Code:    req.Code,
		Library: req.Library,
		Attrib:  req.Attrib,
	}
	for _, t := range req.FolderTypes {
		seed.FolderTypes = append(seed.FolderTypes, config.TypeSeed{Name: t.Name, ShortName: t.ShortName, Icon: t.Icon})
	}
	for _, t := range req.TaskTypes {
		seed.TaskTypes = append(seed.TaskTypes, config.TypeSeed{Name: t.Name, ShortName: t.ShortName, Icon: t.Icon})
	}
	for _, s := range req.Statuses {
		seed.Statuses = append(seed.Statuses, config.StatusSeed{
			Name: s.Name, State: s.State, Icon: s.Icon, Color: s.Color, Scope: s.Scope,
		})
	}
	if len(seed.FolderTypes) == 0 {
		seed.FolderTypes = defaults.FolderTypes
	}
	if len(seed.TaskTypes) == 0 {
		seed.TaskTypes = defaults.TaskTypes
	}
	if len(seed.Statuses) == 0 {
		seed.Statuses = defaults.Statuses
	}
	return seed
}

// Response payloads

type InfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type AttributeResponse struct {
	Name  string              `json:"name"`
	Scope []string            `json:"scope"`
	Data  hub.AttributeSchema `json:"data"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	ProjectName string         `json:"projectName,omitempty"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId,omitempty"`
	ActorID     string         `json:"actorId"`
	Payload     map[string]any `json:"payload"`
}

// Conversion helpers. The client decodes responses into the hub payload
// structs, so those structs are the single source of wire truth.

func attributeResponses(defs []config.AttributeDef) []AttributeResponse {
	out := make([]AttributeResponse, 0, len(defs))
	for _, def := range defs {
		out = append(out, AttributeResponse{
			Name:  def.Name,
			Scope: def.Scope,
			Data: hub.AttributeSchema{
				Type:        def.Data.Type,
				Title:       def.Data.Title,
				Description: def.Data.Description,
				Default:     def.Data.Default,
				Enum:        def.Data.Enum,
			},
		})
	}
	return out
}

func projectPayload(p domain.Project) hub.ProjectPayload {
	payload := hub.ProjectPayload{
		Name:    p.Name,
		Code:    p.Code,
		Library: p.Library,
		Active:  p.Active,
		Attrib:  decodeJSONMap(p.AttribJSON),
		Data:    decodeJSONMap(p.DataJSON),
	}
	_ = json.Unmarshal([]byte(p.FolderTypesJSON), &payload.FolderTypes)
	_ = json.Unmarshal([]byte(p.TaskTypesJSON), &payload.TaskTypes)
	_ = json.Unmarshal([]byte(p.StatusesJSON), &payload.Statuses)
	return payload
}

func folderPayload(view engine.FolderView) hub.FolderPayload {
	e := view.Entity
	return hub.FolderPayload{
		ID:          e.ID,
		Name:        e.Name,
		Label:       e.Label,
		FolderType:  derefString(e.FolderType),
		ParentID:    e.ParentID,
		Path:        view.Path,
		Status:      e.Status,
		Tags:        decodeStringSlice(e.TagsJSON),
		Attrib:      decodeJSONMap(e.AttribJSON),
		Data:        decodeJSONMap(e.DataJSON),
		ThumbnailID: e.ThumbnailID,
		Active:      e.Active,
		HasProducts: view.HasProducts,
	}
}

func taskPayload(e domain.Entity) hub.TaskPayload {
	return hub.TaskPayload{
		ID:          e.ID,
		Name:        e.Name,
		Label:       e.Label,
		TaskType:    derefString(e.TaskType),
		FolderID:    derefString(e.ParentID),
		Status:      e.Status,
		Tags:        decodeStringSlice(e.TagsJSON),
		Assignees:   decodeStringSlice(e.AssigneesJSON),
		Attrib:      decodeJSONMap(e.AttribJSON),
		Data:        decodeJSONMap(e.DataJSON),
		ThumbnailID: e.ThumbnailID,
		Active:      e.Active,
	}
}

func productPayload(e domain.Entity) hub.ProductPayload {
	return hub.ProductPayload{
		ID:          e.ID,
		Name:        e.Name,
		ProductType: derefString(e.ProductType),
		FolderID:    derefString(e.ParentID),
		Tags:        decodeStringSlice(e.TagsJSON),
		Attrib:      decodeJSONMap(e.AttribJSON),
		Data:        decodeJSONMap(e.DataJSON),
		Active:      e.Active,
	}
}

func versionPayload(e domain.Entity) hub.VersionPayload {
	return hub.VersionPayload{
		ID:          e.ID,
		Version:     derefInt(e.Version),
		ProductID:   derefString(e.ParentID),
		TaskID:      e.TaskID,
		Status:      e.Status,
		Tags:        decodeStringSlice(e.TagsJSON),
		Attrib:      decodeJSONMap(e.AttribJSON),
		Data:        decodeJSONMap(e.DataJSON),
		ThumbnailID: e.ThumbnailID,
		Active:      e.Active,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		ProjectName: e.ProjectName,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func decodeStringSlice(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

package ops

import (
	"path/filepath"
	"reflect"
)

func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Skeleton builders produce full create payloads for the batch
// endpoint. Zero-value optional fields are left out of the payload.

// FolderData describes a folder create payload.
type FolderData struct {
	Name        string
	FolderType  string
	ParentID    string
	Label       string
	Status      string
	Tags        []string
	Attrib      map[string]any
	Data        map[string]any
	ThumbnailID string
	EntityID    string
}

// NewFolderData builds the folder create payload. A nil parent id
// parents the folder to the project root.
func NewFolderData(d FolderData) map[string]any {
	output := map[string]any{
		"id":         orNewID(d.EntityID),
		"name":       d.Name,
		"folderType": d.FolderType,
		"attrib":     orEmptyMap(d.Attrib),
		"data":       orEmptyMap(d.Data),
	}
	if d.ParentID != "" {
		output["parentId"] = d.ParentID
	}
	if d.Label != "" {
		output["label"] = d.Label
	}
	if d.ThumbnailID != "" {
		output["thumbnailId"] = d.ThumbnailID
	}
	if d.Status != "" {
		output["status"] = d.Status
	}
	if len(d.Tags) > 0 {
		output["tags"] = d.Tags
	}
	return output
}

// TaskData describes a task create payload.
type TaskData struct {
	Name        string
	TaskType    string
	FolderID    string
	Label       string
	Status      string
	Tags        []string
	Assignees   []string
	Attrib      map[string]any
	Data        map[string]any
	ThumbnailID string
	EntityID    string
}

// NewTaskData builds the task create payload.
func NewTaskData(d TaskData) map[string]any {
	output := map[string]any{
		"id":       orNewID(d.EntityID),
		"name":     d.Name,
		"taskType": d.TaskType,
		"folderId": d.FolderID,
		"attrib":   orEmptyMap(d.Attrib),
		"data":     orEmptyMap(d.Data),
	}
	if d.Label != "" {
		output["label"] = d.Label
	}
	if d.ThumbnailID != "" {
		output["thumbnailId"] = d.ThumbnailID
	}
	if d.Status != "" {
		output["status"] = d.Status
	}
	if len(d.Tags) > 0 {
		output["tags"] = d.Tags
	}
	if len(d.Assignees) > 0 {
		output["assignees"] = d.Assignees
	}
	return output
}

// ProductData describes a product create payload.
type ProductData struct {
	Name        string
	ProductType string
	FolderID    string
	Status      string
	Tags        []string
	Attrib      map[string]any
	Data        map[string]any
	EntityID    string
}

// NewProductData builds the product create payload.
func NewProductData(d ProductData) map[string]any {
	output := map[string]any{
		"id":          orNewID(d.EntityID),
		"name":        d.Name,
		"productType": d.ProductType,
		"folderId":    d.FolderID,
		"attrib":      orEmptyMap(d.Attrib),
		"data":        orEmptyMap(d.Data),
	}
	if d.Status != "" {
		output["status"] = d.Status
	}
	if len(d.Tags) > 0 {
		output["tags"] = d.Tags
	}
	return output
}

// VersionData describes a version create payload.
type VersionData struct {
	Version     int
	ProductID   string
	TaskID      string
	ThumbnailID string
	Author      string
	Status      string
	Tags        []string
	Attrib      map[string]any
	Data        map[string]any
	EntityID    string
}

// NewVersionData builds the version create payload.
func NewVersionData(d VersionData) map[string]any {
	output := map[string]any{
		"id":        orNewID(d.EntityID),
		"version":   d.Version,
		"productId": d.ProductID,
		"attrib":    orEmptyMap(d.Attrib),
		"data":      orEmptyMap(d.Data),
	}
	if d.TaskID != "" {
		output["taskId"] = d.TaskID
	}
	if d.ThumbnailID != "" {
		output["thumbnailId"] = d.ThumbnailID
	}
	if d.Author != "" {
		output["author"] = d.Author
	}
	if len(d.Tags) > 0 {
		output["tags"] = d.Tags
	}
	if d.Status != "" {
		output["status"] = d.Status
	}
	return output
}

// NewHeroVersionData builds a hero version create payload. Hero
// versions are stored with a negated version number mirroring their
// source version.
func NewHeroVersionData(d VersionData) map[string]any {
	if d.Version > 0 {
		d.Version = -d.Version
	}
	return NewVersionData(d)
}

// RepresentationData describes a representation create payload.
type RepresentationData struct {
	Name      string
	VersionID string
	Files     []map[string]any
	Status    string
	Tags      []string
	Attrib    map[string]any
	Data      map[string]any
	Traits    map[string]any
	EntityID  string
}

// NewRepresentationData builds the representation create payload.
func NewRepresentationData(d RepresentationData) map[string]any {
	output := map[string]any{
		"id":        orNewID(d.EntityID),
		"versionId": d.VersionID,
		"files":     d.Files,
		"name":      d.Name,
		"attrib":    orEmptyMap(d.Attrib),
		"data":      orEmptyMap(d.Data),
	}
	if len(d.Traits) > 0 {
		output["traits"] = d.Traits
	}
	if len(d.Tags) > 0 {
		output["tags"] = d.Tags
	}
	if d.Status != "" {
		output["status"] = d.Status
	}
	return output
}

// WorkfileData describes a workfile info create payload.
type WorkfileData struct {
	Filepath    string
	TaskID      string
	Status      string
	Tags        []string
	Attrib      map[string]any
	Description string
	Data        map[string]any
	EntityID    string
}

// NewWorkfileData builds the workfile info create payload. The file
// extension is derived from the path when the attributes carry none.
func NewWorkfileData(d WorkfileData) map[string]any {
	attrib := orEmptyMap(d.Attrib)
	if _, ok := attrib["extension"]; !ok {
		attrib["extension"] = filepath.Ext(d.Filepath)
	}
	if d.Description != "" {
		attrib["description"] = d.Description
	}
	output := map[string]any{
		"id":     orNewID(d.EntityID),
		"taskId": d.TaskID,
		"path":   d.Filepath,
		"attrib": attrib,
		"data":   orEmptyMap(d.Data),
	}
	if d.Status != "" {
		output["status"] = d.Status
	}
	if len(d.Tags) > 0 {
		output["tags"] = d.Tags
	}
	return output
}

// PrepareChanges diffs two entity payloads into an update map. The
// attrib sub-map is diffed key by key; every other key is compared as a
// whole.
func PrepareChanges(oldEntity, newEntity map[string]any) map[string]any {
	changes := map[string]any{}
	for key, value := range newEntity {
		if key == "attrib" {
			continue
		}
		if !equalValue(value, oldEntity[key]) {
			changes[key] = value
		}
	}
	newAttrib, _ := newEntity["attrib"].(map[string]any)
	oldAttrib, _ := oldEntity["attrib"].(map[string]any)
	attribChanges := map[string]any{}
	for key, value := range newAttrib {
		if !equalValue(value, oldAttrib[key]) {
			attribChanges[key] = value
		}
	}
	if len(attribChanges) > 0 {
		changes["attrib"] = attribChanges
	}
	return changes
}

func orNewID(id string) string {
	if id == "" {
		return NewID()
	}
	return id
}

func orEmptyMap(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	return values
}

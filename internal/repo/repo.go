// Package repo is the SQL access layer of the sandbox server.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"trackline/internal/domain"
)

// ErrNotFound signals a missing row.
var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

// runner abstracts *sql.DB and *sql.Tx so reads and writes can run
// inside an operations transaction.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) runner {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableIntPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringPtrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtrFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// InsertProject stores a new project row.
func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	if p.Name == "" {
		return errors.New("name required")
	}
	if p.Code == "" {
		return errors.New("code required")
	}
	_, err := r.on(tx).ExecContext(ctx, `
INSERT INTO projects(name, code, library, folder_types, task_types, statuses, attrib, data, active, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.Name, p.Code, p.Library, p.FolderTypesJSON, p.TaskTypesJSON,
		p.StatusesJSON, p.AttribJSON, p.DataJSON, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

// SaveProject replaces every mutable column of a project row.
func (r Repo) SaveProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.on(tx).ExecContext(ctx, `
UPDATE projects
SET code=?, library=?, folder_types=?, task_types=?, statuses=?, attrib=?, data=?, active=?, updated_at=?
WHERE name=?`,
		p.Code, p.Library, p.FolderTypesJSON, p.TaskTypesJSON,
		p.StatusesJSON, p.AttribJSON, p.DataJSON, p.Active, p.UpdatedAt, p.Name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const projectColumns = `name, code, library, folder_types, task_types, statuses, attrib, data, active, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.Name, &p.Code, &p.Library, &p.FolderTypesJSON, &p.TaskTypesJSON,
		&p.StatusesJSON, &p.AttribJSON, &p.DataJSON, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Project{}, ErrNotFound
	}
	return p, err
}

// GetProject fetches one project by name.
func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, name string) (domain.Project, error) {
	row := r.on(tx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name=?`, name)
	return scanProject(row)
}

// ListProjects lists all project rows.
func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// DeleteProject removes a project and, through the FK cascade, its
// entities.
func (r Repo) DeleteProject(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE name=?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const entityColumns = `id, project_name, entity_type, parent_id, name, label,
folder_type, task_type, product_type, version, task_id, status,
tags, assignees, attrib, data, thumbnail_id, active, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (domain.Entity, error) {
	var e domain.Entity
	var parentID, label, folderType, taskType, productType, taskID, thumbnailID sql.NullString
	var version sql.NullInt64
	err := row.Scan(&e.ID, &e.ProjectName, &e.EntityType, &parentID, &e.Name, &label,
		&folderType, &taskType, &productType, &version, &taskID, &e.Status,
		&e.TagsJSON, &e.AssigneesJSON, &e.AttribJSON, &e.DataJSON,
		&thumbnailID, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Entity{}, ErrNotFound
	}
	if err != nil {
		return domain.Entity{}, err
	}
	e.ParentID = stringPtrFromNull(parentID)
	e.Label = stringPtrFromNull(label)
	e.FolderType = stringPtrFromNull(folderType)
	e.TaskType = stringPtrFromNull(taskType)
	e.ProductType = stringPtrFromNull(productType)
	e.Version = intPtrFromNull(version)
	e.TaskID = stringPtrFromNull(taskID)
	e.ThumbnailID = stringPtrFromNull(thumbnailID)
	return e, nil
}

// InsertEntity stores a new entity row.
func (r Repo) InsertEntity(ctx context.Context, tx *sql.Tx, e domain.Entity) error {
	if e.ID == "" {
		return errors.New("id required")
	}
	if e.ProjectName == "" {
		return errors.New("project_name required")
	}
	_, err := r.on(tx).ExecContext(ctx, `
INSERT INTO entities(id, project_name, entity_type, parent_id, name, label,
folder_type, task_type, product_type, version, task_id, status,
tags, assignees, attrib, data, thumbnail_id, active, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectName, e.EntityType, nullableStringPtr(e.ParentID), e.Name,
		nullableStringPtr(e.Label), nullableStringPtr(e.FolderType),
		nullableStringPtr(e.TaskType), nullableStringPtr(e.ProductType),
		nullableIntPtr(e.Version), nullableStringPtr(e.TaskID), e.Status,
		e.TagsJSON, e.AssigneesJSON, e.AttribJSON, e.DataJSON,
		nullableStringPtr(e.ThumbnailID), e.Active, e.CreatedAt, e.UpdatedAt)
	return err
}

// UpdateEntity replaces every mutable column of an entity row.
func (r Repo) UpdateEntity(ctx context.Context, tx *sql.Tx, e domain.Entity) error {
	res, err := r.on(tx).ExecContext(ctx, `
UPDATE entities
SET parent_id=?, name=?, label=?, folder_type=?, task_type=?, product_type=?,
version=?, task_id=?, status=?, tags=?, assignees=?, attrib=?, data=?,
thumbnail_id=?, active=?, updated_at=?
WHERE project_name=? AND id=?`,
		nullableStringPtr(e.ParentID), e.Name, nullableStringPtr(e.Label),
		nullableStringPtr(e.FolderType), nullableStringPtr(e.TaskType),
		nullableStringPtr(e.ProductType), nullableIntPtr(e.Version),
		nullableStringPtr(e.TaskID), e.Status, e.TagsJSON, e.AssigneesJSON,
		e.AttribJSON, e.DataJSON, nullableStringPtr(e.ThumbnailID), e.Active,
		e.UpdatedAt, e.ProjectName, e.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEntity fetches one entity by id within a project.
func (r Repo) GetEntity(ctx context.Context, tx *sql.Tx, projectName, id string) (domain.Entity, error) {
	row := r.on(tx).QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_name=? AND id=?`,
		projectName, id)
	return scanEntity(row)
}

// DeleteEntity removes one entity row.
func (r Repo) DeleteEntity(ctx context.Context, tx *sql.Tx, projectName, id string) error {
	res, err := r.on(tx).ExecContext(ctx,
		`DELETE FROM entities WHERE project_name=? AND id=?`, projectName, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EntityFilters narrows entity listings. RootParent includes rows whose
// parent_id is NULL, used for folders directly under the project.
type EntityFilters struct {
	ProjectName string
	EntityType  string
	ParentIDs   []string
	RootParent  bool
}

// ListEntities lists entities of one type, optionally narrowed by
// parent.
func (r Repo) ListEntities(ctx context.Context, f EntityFilters) ([]domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE project_name=? AND entity_type=?`
	args := []any{f.ProjectName, f.EntityType}
	if len(f.ParentIDs) > 0 || f.RootParent {
		var clauses []string
		if len(f.ParentIDs) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.ParentIDs)), ",")
			clauses = append(clauses, fmt.Sprintf("parent_id IN (%s)", placeholders))
			for _, id := range f.ParentIDs {
				args = append(args, id)
			}
		}
		if f.RootParent {
			clauses = append(clauses, "parent_id IS NULL")
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	query += ` ORDER BY name, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// CountChildren counts entities whose structural parent or task
// reference is the given entity.
func (r Repo) CountChildren(ctx context.Context, tx *sql.Tx, projectName, id string) (int, error) {
	row := r.on(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE project_name=? AND (parent_id=? OR task_id=?)`,
		projectName, id, id)
	var n int
	err := row.Scan(&n)
	return n, err
}

// SiblingNameExists reports whether another entity of the same type and
// parent already uses the name.
func (r Repo) SiblingNameExists(ctx context.Context, tx *sql.Tx, projectName, entityType string, parentID *string, name, excludeID string) (bool, error) {
	query := `SELECT 1 FROM entities WHERE project_name=? AND entity_type=? AND name=? AND id<>?`
	args := []any{projectName, entityType, name, excludeID}
	if parentID == nil {
		query += ` AND parent_id IS NULL`
	} else {
		query += ` AND parent_id=?`
		args = append(args, *parentID)
	}
	row := r.on(tx).QueryRowContext(ctx, query+` LIMIT 1`, args...)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// FolderRef is the slice of a folder row needed to assemble paths.
type FolderRef struct {
	ID       string
	Name     string
	ParentID *string
}

// FolderRefs returns id, name and parent of every folder in a project.
func (r Repo) FolderRefs(ctx context.Context, projectName string) ([]FolderRef, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, parent_id FROM entities WHERE project_name=? AND entity_type='folder'`,
		projectName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []FolderRef
	for rows.Next() {
		var ref FolderRef
		var parentID sql.NullString
		if err := rows.Scan(&ref.ID, &ref.Name, &parentID); err != nil {
			return nil, err
		}
		ref.ParentID = stringPtrFromNull(parentID)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// FoldersWithProducts returns the ids of folders that own at least one
// product.
func (r Repo) FoldersWithProducts(ctx context.Context, projectName string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT parent_id FROM entities WHERE project_name=? AND entity_type='product' AND parent_id IS NOT NULL`,
		projectName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectName, evtType, entityType, entityID string) ([]domain.Event, error) {
	query := `SELECT id, ts, type, COALESCE(project_name,''), entity_type, COALESCE(entity_id,''), actor_id, payload_json FROM events WHERE 1=1`
	var args []any
	if projectName != "" {
		query += ` AND project_name=?`
		args = append(args, projectName)
	}
	if evtType != "" {
		query += ` AND type=?`
		args = append(args, evtType)
	}
	if entityType != "" {
		query += ` AND entity_type=?`
		args = append(args, entityType)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectName, &e.EntityType, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectpulse/projectpulse/internal/domain"
)

// projectColumns must match the Scan order in scanProject.
const projectColumns = `id, client_id, title, status, quality_score, completed_at, created_at, updated_at`

// ProjectRepo implements domain.ProjectStore backed by PostgreSQL.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.ClientID, &p.Title, &p.Status, &p.QualityScore, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

func (r *ProjectRepo) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return scanProject(row)
}

// CreateProject inserts a new project record. Used by the internal API, not
// by the broadcast core.
func (r *ProjectRepo) CreateProject(ctx context.Context, projectID, clientID, title string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO projects (id, client_id, title)
		VALUES ($1, $2, $3)
		RETURNING `+projectColumns, projectID, clientID, title)
	return scanProject(row)
}

// UpdateProject applies a partial update; nil fields are left untouched.
func (r *ProjectRepo) UpdateProject(ctx context.Context, projectID string, update domain.ProjectUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects
		SET status        = COALESCE($2, status),
		    quality_score = COALESCE($3, quality_score),
		    completed_at  = COALESCE($4, completed_at),
		    updated_at    = now()
		WHERE id = $1`,
		projectID, update.Status, update.QualityScore, update.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

// GetProgressUpdates returns the most recent entries, newest first.
func (r *ProjectRepo) GetProgressUpdates(ctx context.Context, projectID string, limit int) ([]domain.ProgressEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, data, created_at
		FROM progress_updates
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress updates: %w", err)
	}
	defer rows.Close()

	var entries []domain.ProgressEntry
	for rows.Next() {
		var e domain.ProgressEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress update: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read progress updates: %w", err)
	}
	return entries, nil
}

func (r *ProjectRepo) AddProgressUpdate(ctx context.Context, projectID string, data json.RawMessage) (*domain.ProgressEntry, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO progress_updates (project_id, data)
		VALUES ($1, $2)
		RETURNING id, project_id, data, created_at`, projectID, data)

	var e domain.ProgressEntry
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Data, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert progress update: %w", err)
	}
	return &e, nil
}

// SaveProjectReport upserts the final report; re-running a completion
// overwrites the previous report.
func (r *ProjectRepo) SaveProjectReport(ctx context.Context, projectID string, report json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO project_reports (project_id, report)
		VALUES ($1, $2)
		ON CONFLICT (project_id)
		DO UPDATE SET report = EXCLUDED.report, updated_at = now()`, projectID, report)
	if err != nil {
		return fmt.Errorf("failed to save project report: %w", err)
	}
	return nil
}

// GetProjectReport returns the stored final report.
func (r *ProjectRepo) GetProjectReport(ctx context.Context, projectID string) (json.RawMessage, error) {
	var report json.RawMessage
	err := r.pool.QueryRow(ctx, `SELECT report FROM project_reports WHERE project_id = $1`, projectID).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project report: %w", err)
	}
	return report, nil
}

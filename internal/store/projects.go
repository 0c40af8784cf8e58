package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/domain"
)

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Title, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, title string) (*domain.Project, error) {
	var p domain.Project
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, title, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, NOW(), NOW())
		RETURNING id, title, created_at, updated_at
	`, title).Scan(&p.ID, &p.Title, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	return &p, nil
}

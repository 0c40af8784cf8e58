package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGetProjectFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT id, title, created_at, updated_at").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "created_at", "updated_at"}).
			AddRow(id, "demo project", now, now))

	p, err := s.GetProject(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if p.Title != "demo project" {
		t.Errorf("Title = %q, want %q", p.Title, "demo project")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, title, created_at, updated_at").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetProject(context.Background(), id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateProject(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO projects").
		WithArgs("new project").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "created_at", "updated_at"}).
			AddRow(id, "new project", now, now))

	p, err := s.CreateProject(context.Background(), "new project")
	if err != nil {
		t.Fatalf("CreateProject returned error: %v", err)
	}
	if p.ID != id {
		t.Errorf("ID = %v, want %v", p.ID, id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

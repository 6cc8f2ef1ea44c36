// Package store persists diagram snapshots, access records, user profiles
// and the audit trail in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		diagram_data TEXT,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS project_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		UNIQUE (project_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL REFERENCES project_members(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveDiagram overwrites the project's snapshot.
func (s *Store) SaveDiagram(ctx context.Context, projectID int64, data string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET diagram_data = ?, updated_at = ? WHERE id = ?`,
		data, s.now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("failed to save diagram %d: %w", projectID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows for diagram %d: %w", projectID, err)
	} else if n == 0 {
		return fmt.Errorf("project %d: %w", projectID, domain.ErrNotFound)
	}
	return nil
}

// LoadDiagram returns the project's snapshot, or "" if none was saved yet.
func (s *Store) LoadDiagram(ctx context.Context, projectID int64) (string, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT diagram_data FROM projects WHERE id = ?`, projectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("project %d: %w", projectID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load diagram %d: %w", projectID, err)
	}
	return data.String, nil
}

func (s *Store) AppendAudit(ctx context.Context, memberID int64, action string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (member_id, action, created_at) VALUES (?, ?, ?)`,
		memberID, action, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to append audit %q: %w", action, err)
	}
	return nil
}

func (s *Store) AuditEntries(ctx context.Context, memberID int64) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, member_id, action, created_at FROM audit_logs WHERE member_id = ? ORDER BY id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Membership(ctx context.Context, userID, projectID int64) (domain.Membership, error) {
	m := domain.Membership{UserID: userID, ProjectID: projectID}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role FROM project_members WHERE user_id = ? AND project_id = ?`,
		userID, projectID).Scan(&m.ID, &m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Membership{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Membership{}, fmt.Errorf("failed to query membership: %w", err)
	}
	return m, nil
}

func (s *Store) User(ctx context.Context, userID int64) (domain.User, error) {
	u := domain.User{ID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT email, name FROM users WHERE id = ?`, userID).Scan(&u.Email, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, email, name string) (int64, error) {
	return s.insert(ctx, `INSERT INTO users (email, name) VALUES (?, ?)`, email, name)
}

func (s *Store) CreateProject(ctx context.Context, name string) (int64, error) {
	return s.insert(ctx, `INSERT INTO projects (name) VALUES (?)`, name)
}

func (s *Store) AddMember(ctx context.Context, projectID, userID int64, role string) (int64, error) {
	return s.insert(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`,
		projectID, userID, role)
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert: %w", err)
	}
	return res.LastInsertId()
}

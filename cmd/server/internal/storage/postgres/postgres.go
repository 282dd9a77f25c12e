// Package postgres backs the document, membership and user stores
// with PostgreSQL. Selected when DATABASE_URL is configured; the
// contract matches the file-backed stores exactly.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/users"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT UNIQUE NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	account_color TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	revision    BIGINT NOT NULL DEFAULT 0,
	link_access INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memberships (
	user_id     TEXT NOT NULL,
	document_id TEXT NOT NULL,
	access      INT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, document_id)
);
`

// Store implements document.Store and users.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreateDocument(ctx context.Context, doc *document.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, name, language, content, revision, link_access)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.Name, doc.Language, doc.Content, doc.Revision, doc.LinkAccess)
	if isUniqueViolation(err) {
		return document.ErrExists
	}
	return err
}

func (s *Store) Document(ctx context.Context, id string) (*document.Document, error) {
	var doc document.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, language, content, revision, link_access
		 FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Name, &doc.Language, &doc.Content, &doc.Revision, &doc.LinkAccess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, document.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) UpdateDocument(ctx context.Context, doc *document.Document) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
		 SET name = $2, language = $3, content = $4, revision = $5, link_access = $6
		 WHERE id = $1`,
		doc.ID, doc.Name, doc.Language, doc.Content, doc.Revision, doc.LinkAccess)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM memberships WHERE document_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UpsertMembership(ctx context.Context, m *document.Membership) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (user_id, document_id, access)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, document_id) DO UPDATE SET access = EXCLUDED.access`,
		m.UserID, m.DocID, m.Access)
	return err
}

func (s *Store) Membership(ctx context.Context, userID, docID string) (*document.Membership, error) {
	var m document.Membership
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, document_id, access FROM memberships
		 WHERE user_id = $1 AND document_id = $2`, userID, docID).
		Scan(&m.UserID, &m.DocID, &m.Access)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, document.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) MembershipsByDocument(ctx context.Context, docID string) ([]*document.Membership, error) {
	return s.memberships(ctx,
		`SELECT user_id, document_id, access FROM memberships WHERE document_id = $1`, docID)
}

func (s *Store) MembershipsByUser(ctx context.Context, userID string) ([]*document.Membership, error) {
	return s.memberships(ctx,
		`SELECT user_id, document_id, access FROM memberships WHERE user_id = $1`, userID)
}

func (s *Store) memberships(ctx context.Context, query, arg string) ([]*document.Membership, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*document.Membership{}
	for rows.Next() {
		var m document.Membership
		if err := rows.Scan(&m.UserID, &m.DocID, &m.Access); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMembership(ctx context.Context, userID, docID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND document_id = $2`, userID, docID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *users.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, account_color, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.AccountColor, u.CreatedAt)
	if isUniqueViolation(err) {
		return users.ErrExists
	}
	return err
}

func (s *Store) UserByID(ctx context.Context, id string) (*users.User, error) {
	return s.user(ctx, `SELECT id, username, email, password_hash, account_color, created_at
		FROM users WHERE id = $1`, id)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*users.User, error) {
	return s.user(ctx, `SELECT id, username, email, password_hash, account_color, created_at
		FROM users WHERE username = $1`, username)
}

func (s *Store) user(ctx context.Context, query, arg string) (*users.User, error) {
	var u users.User
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.AccountColor, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"eligo/app/core/guideline"
	"eligo/app/pkg/types"
)

// ErrVersionNotFound signals an unknown guidelines version key.
var ErrVersionNotFound = errors.New("guidelines version not found")

// GuidelineStore keeps named, versioned guideline configurations.
// Put validates the whole configuration and replaces the version
// atomically; there are no partial updates.
type GuidelineStore struct {
	db *DB
}

func NewGuidelineStore(db *DB) *GuidelineStore {
	return &GuidelineStore{db: db}
}

// Seed installs the built-in default configuration if the store is empty.
func (s *GuidelineStore) Seed(ctx context.Context) error {
	_, err := s.Get(ctx, "default")
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrVersionNotFound) {
		return err
	}
	return s.Put(ctx, "default", types.DefaultGuidelines())
}

// Put validates and atomically replaces one version. A validation
// failure leaves the stored configuration untouched.
func (s *GuidelineStore) Put(ctx context.Context, version string, g types.Guidelines) error {
	version = strings.TrimSpace(version)
	if version == "" {
		return &guideline.ValidationError{Constraint: "version key must not be empty"}
	}
	g.Version = version
	if err := guideline.Validate(g); err != nil {
		return err
	}
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode guidelines: %w", err)
	}
	query := `
INSERT INTO guideline_versions (version, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(version) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
	_, err = s.db.Conn().ExecContext(ctx, query, version, string(payload), time.Now().Unix())
	return err
}

// Get returns one stored version.
func (s *GuidelineStore) Get(ctx context.Context, version string) (types.Guidelines, error) {
	var payload string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT payload FROM guideline_versions WHERE version = ?`, strings.TrimSpace(version)).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.Guidelines{}, fmt.Errorf("%w: %q", ErrVersionNotFound, version)
	}
	if err != nil {
		return types.Guidelines{}, err
	}
	var g types.Guidelines
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		return types.Guidelines{}, fmt.Errorf("decode guidelines %q: %w", version, err)
	}
	return g, nil
}

// List returns the stored version keys, most recently updated first.
func (s *GuidelineStore) List(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT version FROM guideline_versions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make([]string, 0, limit)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

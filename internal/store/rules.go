package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/promptsentry/promptsentry/internal/patterns"
)

// CustomRule represents a row in the custom_rules table. Rules are stored
// uncompiled; validation happens when they are loaded into a pattern
// library.
type CustomRule struct {
	ID          string
	ProjectID   string
	Name        string
	Expr        string
	Category    string
	Severity    float64
	Description string
	CreatedAt   time.Time
}

// Pattern converts the stored rule into a library pattern.
func (r *CustomRule) Pattern() (patterns.Pattern, error) {
	cat, err := patterns.ParseCategory(r.Category)
	if err != nil {
		return patterns.Pattern{}, fmt.Errorf("custom rule %q: %w", r.Name, err)
	}
	return patterns.Pattern{
		Name:        r.Name,
		Expr:        r.Expr,
		Category:    cat,
		Severity:    r.Severity,
		Description: r.Description,
	}, nil
}

// ListCustomRules returns all custom rules for a project, oldest first so
// library insertion order is stable across restarts.
func (s *Store) ListCustomRules(ctx context.Context, projectID string) ([]*CustomRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, expr, category, severity, description, created_at
		FROM custom_rules WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListCustomRules: %w", err)
	}
	defer rows.Close()

	var rules []*CustomRule
	for rows.Next() {
		var r CustomRule
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Expr,
			&r.Category, &r.Severity, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListCustomRules: %w", err)
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// ListAllCustomRules returns every stored rule across projects, oldest
// first. Used at startup to rebuild the live pattern library.
func (s *Store) ListAllCustomRules(ctx context.Context) ([]*CustomRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, expr, category, severity, description, created_at
		FROM custom_rules ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListAllCustomRules: %w", err)
	}
	defer rows.Close()

	var rules []*CustomRule
	for rows.Next() {
		var r CustomRule
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Expr,
			&r.Category, &r.Severity, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListAllCustomRules: %w", err)
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// InsertCustomRule persists a rule for a project. The caller validates the
// pattern against a library first; this only records it.
func (s *Store) InsertCustomRule(ctx context.Context, projectID string, p patterns.Pattern) (*CustomRule, error) {
	var r CustomRule
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO custom_rules (project_id, name, expr, category, severity, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, name, expr, category, severity, description, created_at`,
		projectID, p.Name, p.Expr, p.Category.String(), p.Severity, p.Description,
	).Scan(&r.ID, &r.ProjectID, &r.Name, &r.Expr,
		&r.Category, &r.Severity, &r.Description, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("InsertCustomRule: %w", err)
	}
	return &r, nil
}

// DeleteCustomRule removes a rule by name. Returns sql.ErrNoRows if absent.
func (s *Store) DeleteCustomRule(ctx context.Context, projectID, name string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM custom_rules WHERE project_id = $1 AND name = $2`, projectID, name)
	if err != nil {
		return fmt.Errorf("DeleteCustomRule: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

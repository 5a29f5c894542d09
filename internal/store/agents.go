// ABOUTME: Support agent accounts and presence heartbeats
// ABOUTME: Active agents drive the live-support availability check

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAgent inserts a support agent. Returns ErrDuplicate if the username is taken.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *SupportAgent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO support_agents (id, username, display_name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Username,
		agent.DisplayName,
		agent.PasswordHash,
		agent.Role,
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting support agent: %w", err)
	}

	s.logger.Info("created support agent", "id", agent.ID, "username", agent.Username)
	return nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*SupportAgent, error) {
	return s.getAgent(ctx, "id", id)
}

// GetAgentByUsername retrieves an agent by username.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgentByUsername(ctx context.Context, username string) (*SupportAgent, error) {
	return s.getAgent(ctx, "username", username)
}

func (s *SQLiteStore) getAgent(ctx context.Context, column, value string) (*SupportAgent, error) {
	query := `
		SELECT id, username, display_name, password_hash, role, created_at, last_activity
		FROM support_agents
		WHERE ` + column + ` = ?
	`

	var a SupportAgent
	var createdAt string
	var lastActivity sql.NullString

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&a.ID,
		&a.Username,
		&a.DisplayName,
		&a.PasswordHash,
		&a.Role,
		&createdAt,
		&lastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying support agent: %w", err)
	}

	if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		t, err := parseTime("last_activity", lastActivity.String)
		if err != nil {
			return nil, err
		}
		a.LastActivity = &t
	}

	return &a, nil
}

// TouchAgent records agent activity at the given time.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE support_agents SET last_activity = ? WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating agent activity: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAgents counts agents whose last activity is at or after since.
func (s *SQLiteStore) CountActiveAgents(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM support_agents WHERE last_activity IS NOT NULL AND last_activity >= ?`,
		formatTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active agents: %w", err)
	}
	return n, nil
}

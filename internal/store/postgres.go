package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements SessionStore and OrgStore against the platform
// database. Reads run outside any caller transaction; the audit pipeline
// never piggybacks on request-scoped transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const activeSessionQuery = `
SELECT id, user_id, session_type, COALESCE(device_label, '')
FROM sessions
WHERE user_id = $1 AND revoked_at IS NULL
ORDER BY last_seen_at DESC
LIMIT 1`

// GetActiveSession returns the user's most recently seen live session.
func (p *PostgresStore) GetActiveSession(ctx context.Context, userID string) (*Session, error) {
	var s Session
	err := p.pool.QueryRow(ctx, activeSessionQuery, userID).
		Scan(&s.ID, &s.UserID, &s.SessionType, &s.DeviceLabel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

const membershipQuery = `
SELECT o.id, o.slug, m.role, COALESCE(tm.team_id::text, ''), COALESCE(tm.role, '')
FROM org_members m
JOIN orgs o ON o.id = m.org_id
LEFT JOIN team_members tm ON tm.user_id = m.user_id AND tm.org_id = m.org_id
WHERE m.user_id = $1
ORDER BY m.created_at ASC
LIMIT 1`

// GetMembership returns the user's primary organization membership plus
// team membership when one exists.
func (p *PostgresStore) GetMembership(ctx context.Context, userID string) (*OrgMembership, error) {
	var m OrgMembership
	err := p.pool.QueryRow(ctx, membershipQuery, userID).
		Scan(&m.OrgID, &m.OrgSlug, &m.OrgRole, &m.TeamID, &m.TeamRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Close releases the underlying pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

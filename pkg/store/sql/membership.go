package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/rs/zerolog"
)

// MembershipStore reads the user_group_memberships table. Only the latest
// observation of every (username, hub) pair up to the end of the as-of day
// is ever returned.
type MembershipStore struct {
	db *sql.DB
}

func NewMembershipStore(db *sql.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

const latestMembershipsQuery = `
		SELECT m.username, m.hub, m.usergroup, m.observed_at
		FROM user_group_memberships AS m
		JOIN (
			SELECT username, hub, MAX(observed_at) AS observed_at
			FROM user_group_memberships
			WHERE observed_at < $1
			GROUP BY username, hub
		) AS latest
			ON m.username = latest.username
			AND m.hub = latest.hub
			AND m.observed_at = latest.observed_at
		ORDER BY m.hub, m.username, m.usergroup`

func (s *MembershipStore) Observations(ctx context.Context, asOf time.Time) ([]domain.GroupMembership, error) {
	logger := zerolog.Ctx(ctx)

	rows, err := s.db.QueryContext(ctx, latestMembershipsQuery, endOfDay(asOf))
	if err != nil {
		return nil, fmt.Errorf("%w: membership query failed: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to close membership query rows")
		}
	}(rows)

	var memberships []domain.GroupMembership
	for rows.Next() {
		var (
			m          domain.GroupMembership
			observedAt time.Time
		)
		if err := rows.Scan(&m.User, &m.Hub, &m.Usergroup, &observedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		m.ObservedAt = domain.Day(observedAt)
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: membership rows: %w", domain.ErrUpstreamUnavailable, err)
	}

	logger.Debug().Int("rows", len(memberships)).Msg("loaded group memberships")
	return memberships, nil
}

// endOfDay is the exclusive upper bound of the UTC day holding t.
func endOfDay(t time.Time) time.Time {
	return domain.Day(t).AddDate(0, 0, 1)
}

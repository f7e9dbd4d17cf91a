package sql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipStore_Observations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	asOf := time.Date(2025, 3, 31, 15, 0, 0, 0, time.UTC)
	observed := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"username", "hub", "usergroup", "observed_at"}).
		AddRow("alice", "prod", "admins", observed).
		AddRow("alice", "prod", "researchers", observed).
		AddRow("bob", "staging", "", observed)

	mock.ExpectQuery(regexp.QuoteMeta(latestMembershipsQuery)).
		WithArgs(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(rows)

	memberships, err := NewMembershipStore(db).Observations(context.Background(), asOf)
	require.NoError(t, err)

	require.Len(t, memberships, 3)
	assert.Equal(t, domain.GroupMembership{User: "alice", Hub: "prod", Usergroup: "admins", ObservedAt: observed}, memberships[0])
	assert.Equal(t, "", memberships[2].Usergroup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipStore_IncludesObservationsLaterOnAsOfDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	asOf := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	observed := time.Date(2025, 3, 31, 18, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"username", "hub", "usergroup", "observed_at"}).
		AddRow("alice", "prod", "admins", observed)
	mock.ExpectQuery(regexp.QuoteMeta(latestMembershipsQuery)).
		WithArgs(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(rows)

	memberships, err := NewMembershipStore(db).Observations(context.Background(), asOf)
	require.NoError(t, err)

	require.Len(t, memberships, 1)
	assert.Equal(t, asOf, memberships[0].ObservedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndOfDay(t *testing.T) {
	assert.Equal(t,
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		endOfDay(time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t,
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		endOfDay(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)))
}

func TestMembershipStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(latestMembershipsQuery)).
		WillReturnError(errors.New("connection refused"))

	_, err = NewMembershipStore(db).Observations(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipStore_ScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"username", "hub", "usergroup", "observed_at"}).
		AddRow("alice", "prod", "admins", "not a time")
	mock.ExpectQuery(regexp.QuoteMeta(latestMembershipsQuery)).WillReturnRows(rows)

	_, err = NewMembershipStore(db).Observations(context.Background(), time.Now())
	require.Error(t, err)
}

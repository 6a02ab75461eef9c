package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scan-attendance/internal/models"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

func snapshotRow(ext, code, first, last string) models.RosterSnapshotRow {
	return models.RosterSnapshotRow{ExternalID: ext, ScanCode: code, FirstName: first, LastName: last, GradYear: 2026}
}

func TestReconcileDeactivatesAndAdds(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	diff, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-1", "ABC123", "Ada", "Lovelace"),
	}})
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	s1 := diff.Added[0]
	env.scan(t, "ABC123", at("2024-09-10", 8, 0))

	diff, err = env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-2", "DEF456", "Alan", "Turing"),
	}})
	require.NoError(t, err)
	require.Len(t, diff.Deactivated, 1)
	assert.Equal(t, s1.ID, diff.Deactivated[0].ID)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, "DEF456", diff.Added[0].ScanCode)
	assert.Empty(t, diff.Updated)

	history, _, err := env.ledger.Query(ctx, models.EventFilter{StudentID: s1.ID, Outcome: models.OutcomeAccepted})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	out := env.scan(t, "ABC123", at("2024-09-11", 8, 0))
	assert.Equal(t, models.OutcomeUnknownCode, out.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	snapshot := models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-1", "ABC123", "Ada", "Lovelace"),
		snapshotRow("EXT-2", "", "Alan", "Turing"),
	}}

	first, err := env.reconcile.Reconcile(ctx, snapshot)
	require.NoError(t, err)
	assert.Len(t, first.Added, 2)

	second, err := env.reconcile.Reconcile(ctx, snapshot)
	require.NoError(t, err)
	assert.True(t, second.Empty())
}

func TestReconcileUpdatesWithoutTouchingCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-1", "ABC123", "Ada", "Lovelace"),
	}})
	require.NoError(t, err)

	row := snapshotRow("EXT-1", "ZZZ999", "Ada", "King")
	row.GradYear = 2025
	diff, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{row}})
	require.NoError(t, err)
	require.Len(t, diff.Updated, 1)
	assert.Equal(t, "King", diff.Updated[0].LastName)
	assert.Equal(t, 2025, diff.Updated[0].GradYear)
	assert.Equal(t, "ABC123", diff.Updated[0].ScanCode)
}

func TestReconcileMatchesByEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addStudent(t, "S1", "ABC123", "Ada", "Lovelace")

	diff, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		{ExternalID: "EXT-1", FirstName: "Ada", LastName: "Lovelace", GradYear: 2026, Email: "ada@EXAMPLE.org"},
	}})
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Deactivated)
	require.Len(t, diff.Updated, 1)
	require.NotNil(t, diff.Updated[0].ExternalID)
	assert.Equal(t, "EXT-1", *diff.Updated[0].ExternalID)
}

func TestReconcileReplacesCollidingCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-1", "ABC123", "Ada", "Lovelace"),
	}})
	require.NoError(t, err)

	diff, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-1", "ABC123", "Ada", "Lovelace"),
		snapshotRow("EXT-2", "ABC123", "Alan", "Turing"),
	}})
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	require.Len(t, diff.ReplacedCodes, 1)
	assert.Equal(t, "ABC123", diff.ReplacedCodes[0].RequestedCode)
	assert.Equal(t, diff.Added[0].ScanCode, diff.ReplacedCodes[0].AssignedCode)
	assert.NotEqual(t, "ABC123", diff.Added[0].ScanCode)
}

func TestReconcileRejectsBadSnapshots(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addStudent(t, "S1", "ABC123", "Ada", "Lovelace")

	_, err := env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		snapshotRow("EXT-1", "", "Ada", "Lovelace"),
		snapshotRow("EXT-1", "", "Ada", "Lovelace"),
	}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = env.reconcile.Reconcile(ctx, models.RosterSnapshot{Rows: []models.RosterSnapshotRow{
		{FirstName: "No", LastName: "Key", GradYear: 2026},
	}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	// A failed run leaves the roster unchanged.
	st, err := env.roster.Get(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, st.Active)
}

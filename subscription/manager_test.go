package subscription

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/malipo-ke/malipo/plan"
)

func testManager(t *testing.T) *Manager {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	m, err := NewManager(ManagerOptions{
		DB:     db,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestUpsertCreates(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	sub, err := m.Upsert(ctx, UpsertOptions{
		CustomerID: "cust-1",
		Plan:       plan.Gamer,
		StartDate:  start,
		EndDate:    start.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, StateActive, sub.State)
	assert.True(t, sub.AutoRenew)
}

func TestUpsertConflictReturnsStoredRow(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	first, err := m.Upsert(ctx, UpsertOptions{
		CustomerID: "cust-1",
		Plan:       plan.Basic,
		StartDate:  start,
		EndDate:    start.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	renewal := start.AddDate(0, 1, 0)
	second, err := m.Upsert(ctx, UpsertOptions{
		CustomerID: "cust-1",
		Plan:       plan.Gamer,
		StartDate:  renewal,
		EndDate:    renewal.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	// the renewal overwrites the row in place: the returned subscription must
	// carry the stored row's identity, not a freshly generated draft
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, plan.Gamer, second.Plan)
	assert.Equal(t, renewal.Unix(), second.StartDate.Unix())
	assert.True(t, second.AutoRenew)

	effective, err := m.GetEffectiveByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, effective)
	assert.Equal(t, first.ID, effective.ID)
}

func TestGetEffectiveByCustomerNotFound(t *testing.T) {
	m := testManager(t)

	sub, err := m.GetEffectiveByCustomer(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

package partition

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinpeak/exchange-core/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Order{},
		&types.Trade{},
		&Partition{},
		&RetentionPolicy{},
	))
	return db
}

func TestPartitionNaming(t *testing.T) {
	start := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "orders_y2026m09", monthlyPartitionName("orders", start))
	assert.Equal(t, "trades_y2026m09d01", dailyPartitionName("trades", start))

	dec := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "trades_y2026m12d31", dailyPartitionName("trades", dec))
}

func TestMonthlyRangesAreContiguous(t *testing.T) {
	now := time.Date(2026, time.November, 15, 10, 30, 0, 0, time.UTC)
	ranges := monthlyRanges(now, 3)
	require.Len(t, ranges, 4) // current month plus three ahead

	assert.Equal(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), ranges[0].Start)
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].End, ranges[i].Start, "gap between range %d and %d", i-1, i)
	}
	// December rolls into January of the next year.
	assert.Equal(t, time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC), ranges[3].End)
}

func TestDailyRangesCrossMonthBoundary(t *testing.T) {
	now := time.Date(2026, time.September, 29, 23, 0, 0, 0, time.UTC)
	ranges := dailyRanges(now, 3)
	require.Len(t, ranges, 4)

	assert.Equal(t, time.Date(2026, time.September, 29, 0, 0, 0, 0, time.UTC), ranges[0].Start)
	assert.Equal(t, time.Date(2026, time.October, 2, 0, 0, 0, 0, time.UTC), ranges[3].Start)
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].End, ranges[i].Start)
	}
}

func TestEnsureOrderPartitionsIdempotent(t *testing.T) {
	db := testDB(t)
	manager := NewManager(db)

	created, err := manager.EnsureOrderPartitions(3)
	require.NoError(t, err)
	assert.Equal(t, 4, created)

	first, err := manager.Partitions(OrdersTable)
	require.NoError(t, err)
	require.Len(t, first, 4)

	// Second run is a no-op with an identical final partition set.
	created, err = manager.EnsureOrderPartitions(3)
	require.NoError(t, err)
	assert.Zero(t, created)

	second, err := manager.Partitions(OrdersTable)
	require.NoError(t, err)
	require.Len(t, second, 4)
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.True(t, first[i].RangeStart.Equal(second[i].RangeStart))
		assert.True(t, first[i].RangeEnd.Equal(second[i].RangeEnd))
	}

	// A longer horizon only adds the missing tail.
	created, err = manager.EnsureOrderPartitions(5)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

func TestEnsureTradePartitions(t *testing.T) {
	manager := NewManager(testDB(t))

	created, err := manager.EnsureTradePartitions(7)
	require.NoError(t, err)
	assert.Equal(t, 8, created)

	parts, err := manager.Partitions(TradesTable)
	require.NoError(t, err)
	require.Len(t, parts, 8)
	for i := 1; i < len(parts); i++ {
		assert.True(t, parts[i-1].RangeEnd.Equal(parts[i].RangeStart), "partition ranges must be gap-free")
	}
}

func TestApplyRetentionDropsWholePartitions(t *testing.T) {
	db := testDB(t)
	manager := NewManager(db)

	// Current partitions, all inside retention.
	_, err := manager.EnsureOrderPartitions(1)
	require.NoError(t, err)

	// An ancient partition with a real backing table.
	oldStart := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	oldName := monthlyPartitionName(OrdersTable, oldStart)
	require.NoError(t, db.Exec(createDDL(db.Dialector.Name(), OrdersTable, oldName, timeRange{
		Start: oldStart,
		End:   oldStart.AddDate(0, 1, 0),
	})).Error)
	require.NoError(t, db.Create(&Partition{
		Parent:     OrdersTable,
		Name:       oldName,
		RangeStart: oldStart,
		RangeEnd:   oldStart.AddDate(0, 1, 0),
	}).Error)
	require.True(t, db.Migrator().HasTable(oldName))

	require.NoError(t, manager.SetRetention(OrdersTable, 12))

	dropped, err := manager.ApplyRetention()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.False(t, db.Migrator().HasTable(oldName))

	// Registry no longer lists it; live partitions survive.
	parts, err := manager.Partitions(OrdersTable)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.NotEqual(t, oldName, p.Name)
		assert.True(t, db.Migrator().HasTable(p.Name))
	}

	// Retention is idempotent once expired partitions are gone.
	dropped, err = manager.ApplyRetention()
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestSetRetentionUpserts(t *testing.T) {
	db := testDB(t)
	manager := NewManager(db)

	require.NoError(t, manager.SetRetention(TradesTable, 6))
	require.NoError(t, manager.SetRetention(TradesTable, 9))

	var policies []RetentionPolicy
	require.NoError(t, db.Where("parent = ?", TradesTable).Find(&policies).Error)
	require.Len(t, policies, 1)
	assert.Equal(t, 9, policies[0].RetentionMonths)
}

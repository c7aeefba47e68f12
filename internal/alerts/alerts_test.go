package alerts

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
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
	require.NoError(t, db.AutoMigrate(&types.PriceAlert{}))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func spec(symbol string, condition types.AlertCondition, target string) AlertSpec {
	return AlertSpec{
		Symbol:      symbol,
		Condition:   condition,
		TargetPrice: dec(target),
	}
}

func TestCreateAlertValidation(t *testing.T) {
	service := NewService(testDB(t))

	tests := []struct {
		name string
		spec AlertSpec
	}{
		{"missing symbol", spec("", types.ConditionAbove, "50000")},
		{"bad condition", spec("BTC/USDT", "NEAR", "50000")},
		{"zero target", spec("BTC/USDT", types.ConditionAbove, "0")},
		{"negative target", spec("BTC/USDT", types.ConditionBelow, "-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateAlert("user-1", tt.spec)
			assert.ErrorIs(t, err, types.ErrInvalidAlertSpec)
		})
	}
}

func TestDuplicateActiveAlertRejected(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	_, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	_, err = service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	assert.ErrorIs(t, err, types.ErrDuplicateAlert)

	var count int64
	require.NoError(t, db.Model(&types.PriceAlert{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Different tuple components are all fine.
	_, err = service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionBelow, "50000"))
	assert.NoError(t, err)
	_, err = service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "51000"))
	assert.NoError(t, err)
	_, err = service.CreateAlert("user-2", spec("BTC/USDT", types.ConditionAbove, "50000"))
	assert.NoError(t, err)
}

func TestInactiveDuplicateAllowed(t *testing.T) {
	service := NewService(testDB(t))

	first, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	// Trigger the first alert out of band; an identical new alert is then legal.
	won, err := service.GetDB().TriggerAlert(first.AlertID, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	_, err = service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	assert.NoError(t, err)
}

func TestReactivateClearsTriggerHistory(t *testing.T) {
	service := NewService(testDB(t))

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	won, err := service.GetDB().TriggerAlert(alert.AlertID, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	reactivated, err := service.ReactivateAlert(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.True(t, reactivated.Active)
	assert.Nil(t, reactivated.LastTriggeredAt)
	assert.Zero(t, reactivated.NotificationsSent)

	// Another user cannot touch it.
	_, err = service.ReactivateAlert(alert.AlertID, "user-2")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReactivateRefusedWhileDuplicateActive(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	first, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	won, err := service.GetDB().TriggerAlert(first.AlertID, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	// An identical replacement alert is legal once the first is inactive.
	_, err = service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	// Rearming the original would make two active rows for the tuple.
	_, err = service.ReactivateAlert(first.AlertID, "user-1")
	assert.ErrorIs(t, err, types.ErrDuplicateAlert)

	var count int64
	require.NoError(t, db.Model(&types.PriceAlert{}).
		Where("user_id = ? AND symbol = ? AND condition = ? AND target_price = ? AND active = ?",
			"user-1", "BTC/USDT", types.ConditionAbove, dec("50000"), true).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := service.GetDB().GetAlertForUser(first.AlertID, "user-1")
	require.NoError(t, err)
	assert.False(t, got.Active, "refused reactivation leaves the alert inactive")
}

func TestDeleteAlert(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	assert.ErrorIs(t, service.DeleteAlert(alert.AlertID, "user-2"), types.ErrNotFound)
	require.NoError(t, service.DeleteAlert(alert.AlertID, "user-1"))
	assert.ErrorIs(t, service.DeleteAlert(alert.AlertID, "user-1"), types.ErrNotFound)

	var count int64
	require.NoError(t, db.Model(&types.PriceAlert{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTriggerAlertIsConditional(t *testing.T) {
	service := NewService(testDB(t))

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	now := time.Now()
	won, err := service.GetDB().TriggerAlert(alert.AlertID, now)
	require.NoError(t, err)
	assert.True(t, won)

	// The racing loser sees zero rows affected.
	won, err = service.GetDB().TriggerAlert(alert.AlertID, now)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := service.GetDB().GetAlertForUser(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 1, got.NotificationsSent)
	require.NotNil(t, got.LastTriggeredAt)
}

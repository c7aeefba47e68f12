package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpeak/exchange-core/internal/notify"
	"github.com/coinpeak/exchange-core/internal/ticker"
	"github.com/coinpeak/exchange-core/internal/types"
)

// captureChannel records every published notification.
type captureChannel struct {
	mu     sync.Mutex
	events []notify.Event
	users  []string
}

func (c *captureChannel) Publish(userID string, event notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	c.events = append(c.events, event)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// countingSource wraps a static source and counts fetches per symbol.
type countingSource struct {
	inner *ticker.StaticSource
	mu    sync.Mutex
	calls map[string]int
}

func newCountingSource() *countingSource {
	return &countingSource{
		inner: ticker.NewStaticSource(),
		calls: make(map[string]int),
	}
}

func (s *countingSource) GetLatestPrice(ctx context.Context, symbol string) (*ticker.Quote, error) {
	s.mu.Lock()
	s.calls[symbol]++
	s.mu.Unlock()
	return s.inner.GetLatestPrice(ctx, symbol)
}

func newTestEvaluator(t *testing.T) (*Service, *countingSource, *captureChannel, *Evaluator) {
	t.Helper()
	service := NewService(testDB(t))
	source := newCountingSource()
	channel := &captureChannel{}
	evaluator := NewEvaluator(service.GetDB(), source, notify.NewDispatcher(channel), time.Second)
	return service, source, channel, evaluator
}

func TestBelowAlertTriggers(t *testing.T) {
	service, source, channel, evaluator := newTestEvaluator(t)

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionBelow, "40000"))
	require.NoError(t, err)

	source.inner.SetPrice("BTC/USDT", dec("39999"))
	require.NoError(t, evaluator.RunCycle(context.Background()))

	got, err := service.GetDB().GetAlertForUser(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 1, got.NotificationsSent)
	require.NotNil(t, got.LastTriggeredAt)

	require.Equal(t, 1, channel.count())
	event := channel.events[0]
	assert.Equal(t, "user-1", channel.users[0])
	assert.Equal(t, alert.AlertID, event.AlertID)
	assert.Contains(t, event.Message, "40000")
	assert.Contains(t, event.Message, "39999")
	assert.Contains(t, event.Message, "below")
}

func TestBoundaryIsInclusive(t *testing.T) {
	service, source, channel, evaluator := newTestEvaluator(t)

	above, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)
	below, err := service.CreateAlert("user-2", spec("BTC/USDT", types.ConditionBelow, "50000"))
	require.NoError(t, err)

	// Exactly at the target: both fire.
	source.inner.SetPrice("BTC/USDT", dec("50000"))
	require.NoError(t, evaluator.RunCycle(context.Background()))

	for _, pair := range []struct{ id, user string }{
		{above.AlertID, "user-1"},
		{below.AlertID, "user-2"},
	} {
		got, err := service.GetDB().GetAlertForUser(pair.id, pair.user)
		require.NoError(t, err)
		assert.False(t, got.Active, "alert %s must fire at the exact target price", pair.id)
	}
	assert.Equal(t, 2, channel.count())
}

func TestNonTriggeringAlertStaysActive(t *testing.T) {
	service, source, channel, evaluator := newTestEvaluator(t)

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "70000"))
	require.NoError(t, err)

	source.inner.SetPrice("BTC/USDT", dec("65000"))
	require.NoError(t, evaluator.RunCycle(context.Background()))

	got, err := service.GetDB().GetAlertForUser(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Zero(t, got.NotificationsSent)
	require.NotNil(t, got.LastCheckedAt, "non-triggering evaluation still records last-checked")
	assert.Zero(t, channel.count())
}

func TestOneFetchPerSymbolPerCycle(t *testing.T) {
	service, source, _, evaluator := newTestEvaluator(t)

	// Many users watch the same symbol; one fetch serves them all.
	for _, user := range []string{"user-1", "user-2", "user-3"} {
		_, err := service.CreateAlert(user, spec("BTC/USDT", types.ConditionAbove, "99999"))
		require.NoError(t, err)
	}
	_, err := service.CreateAlert("user-1", spec("ETH/USDT", types.ConditionBelow, "1"))
	require.NoError(t, err)

	source.inner.SetPrice("BTC/USDT", dec("65000"))
	source.inner.SetPrice("ETH/USDT", dec("3200"))
	require.NoError(t, evaluator.RunCycle(context.Background()))

	assert.Equal(t, 1, source.calls["BTC/USDT"])
	assert.Equal(t, 1, source.calls["ETH/USDT"])
}

func TestNoActiveAlertsMakesNoFetches(t *testing.T) {
	_, source, _, evaluator := newTestEvaluator(t)

	require.NoError(t, evaluator.RunCycle(context.Background()))
	assert.Empty(t, source.calls)
}

func TestSymbolFailureIsIsolated(t *testing.T) {
	service, source, channel, evaluator := newTestEvaluator(t)

	_, err := service.CreateAlert("user-1", spec("DOGE/USDT", types.ConditionAbove, "1"))
	require.NoError(t, err)
	healthy, err := service.CreateAlert("user-2", spec("BTC/USDT", types.ConditionBelow, "70000"))
	require.NoError(t, err)

	// No price for DOGE/USDT: that group fails, BTC still evaluates.
	source.inner.SetPrice("BTC/USDT", dec("65000"))
	require.NoError(t, evaluator.RunCycle(context.Background()))

	got, err := service.GetDB().GetAlertForUser(healthy.AlertID, "user-2")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 1, channel.count())
}

func TestAlertFiresAtMostOnceAcrossCycles(t *testing.T) {
	service, source, channel, evaluator := newTestEvaluator(t)

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	source.inner.SetPrice("BTC/USDT", dec("60000"))
	for i := 0; i < 5; i++ {
		require.NoError(t, evaluator.RunCycle(context.Background()))
	}

	got, err := service.GetDB().GetAlertForUser(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.NotificationsSent)
	assert.Equal(t, 1, channel.count())

	// Reactivation arms exactly one more shot.
	_, err = service.ReactivateAlert(alert.AlertID, "user-1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, evaluator.RunCycle(context.Background()))
	}

	got, err = service.GetDB().GetAlertForUser(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.NotificationsSent, "counter was reset on reactivation")
	assert.Equal(t, 2, channel.count())
}

func TestDeactivationCommitsBeforeDispatch(t *testing.T) {
	service := NewService(testDB(t))
	source := newCountingSource()

	alert, err := service.CreateAlert("user-1", spec("BTC/USDT", types.ConditionAbove, "50000"))
	require.NoError(t, err)

	// The channel observes the alert row at publish time: it must already be
	// deactivated, and a failing publish must not resurrect it.
	verify := &stateCheckChannel{t: t, service: service, alertID: alert.AlertID}
	evaluator := NewEvaluator(service.GetDB(), source, notify.NewDispatcher(verify), time.Second)

	source.inner.SetPrice("BTC/USDT", dec("60000"))
	require.NoError(t, evaluator.RunCycle(context.Background()))
	require.True(t, verify.called)

	got, err := service.GetDB().GetAlertForUser(alert.AlertID, "user-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 1, got.NotificationsSent)
}

type stateCheckChannel struct {
	t       *testing.T
	service *Service
	alertID string
	called  bool
}

func (c *stateCheckChannel) Publish(userID string, event notify.Event) error {
	c.called = true
	got, err := c.service.GetDB().GetAlertForUser(c.alertID, userID)
	require.NoError(c.t, err)
	assert.False(c.t, got.Active, "deactivation must be visible before dispatch")
	return errors.New("delivery backend unavailable")
}

func TestMessageFormat(t *testing.T) {
	event := notify.Event{
		Symbol:        "BTC/USDT",
		Condition:     string(types.ConditionBelow),
		TargetPrice:   dec("40000"),
		ObservedPrice: dec("39999"),
	}

	// The deterministic message is produced on dispatch; format is asserted
	// through a capturing channel.
	channel := &captureChannel{}
	notify.NewDispatcher(channel).Notify("user-1", event)
	require.Equal(t, 1, channel.count())
	msg := channel.events[0].Message
	assert.True(t, strings.HasPrefix(msg, "BTC/USDT price is now below your target of 40000."), "got %q", msg)
	assert.Contains(t, msg, "Current price: 39999")
}

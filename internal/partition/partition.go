package partition

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	// OrdersTable and TradesTable are the partitioned parents this manager
	// maintains. Orders partition monthly; trades partition daily because
	// trade volume runs far higher.
	OrdersTable = "orders"
	TradesTable = "trades"
)

// Manager creates time-range partitions ahead of need and retires the ones
// whose whole range has aged past the retention policy. It runs off the write
// path: a failed creation never blocks writes into partitions that already
// exist.
type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// EnsureOrderPartitions idempotently creates monthly order partitions from the
// current month through horizonMonths ahead. Returns how many were created;
// already-existing partitions are no-ops, not errors.
func (m *Manager) EnsureOrderPartitions(horizonMonths int) (int, error) {
	return m.ensure(OrdersTable, monthlyRanges(time.Now(), horizonMonths), monthlyPartitionName)
}

// EnsureTradePartitions is the daily equivalent for the trades table.
func (m *Manager) EnsureTradePartitions(horizonDays int) (int, error) {
	return m.ensure(TradesTable, dailyRanges(time.Now(), horizonDays), dailyPartitionName)
}

func (m *Manager) ensure(parent string, ranges []timeRange, nameFn func(string, time.Time) string) (int, error) {
	logger := log.With().Str("component", "partition_manager").Str("parent", parent).Logger()

	created := 0
	var firstErr error
	for _, rng := range ranges {
		name := nameFn(parent, rng.Start)

		var existing Partition
		err := m.db.Where("name = ?", name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// DDL and registry row commit together so a partial failure cannot
		// leave the registry claiming a partition that does not exist.
		err = m.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(createDDL(tx.Dialector.Name(), parent, name, rng)).Error; err != nil {
				return err
			}
			return tx.Create(&Partition{
				Parent:     parent,
				Name:       name,
				RangeStart: rng.Start,
				RangeEnd:   rng.End,
			}).Error
		})
		if err != nil {
			// One bad partition must not stop the rest of the horizon.
			logger.Error().Err(err).Str("partition", name).Msg("failed to create partition")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		logger.Info().
			Str("partition", name).
			Time("range_start", rng.Start).
			Time("range_end", rng.End).
			Msg("created partition")
		created++
	}
	return created, firstErr
}

// SetRetention upserts the retention policy for a parent table.
func (m *Manager) SetRetention(parent string, months int) error {
	var policy RetentionPolicy
	err := m.db.Where("parent = ?", parent).First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m.db.Create(&RetentionPolicy{Parent: parent, RetentionMonths: months}).Error
	}
	if err != nil {
		return err
	}
	policy.RetentionMonths = months
	return m.db.Save(&policy).Error
}

// ApplyRetention drops every partition whose entire range is older than its
// parent's policy. Destructive and irreversible; it only ever operates on
// whole partitions. Returns how many partitions were dropped.
func (m *Manager) ApplyRetention() (int, error) {
	logger := log.With().Str("component", "partition_manager").Logger()

	var policies []RetentionPolicy
	if err := m.db.Find(&policies).Error; err != nil {
		return 0, err
	}

	dropped := 0
	var firstErr error
	for _, policy := range policies {
		cutoff := monthStart(time.Now()).AddDate(0, -policy.RetentionMonths, 0)

		var expired []Partition
		if err := m.db.
			Where("parent = ? AND range_end <= ?", policy.Parent, cutoff).
			Find(&expired).Error; err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, p := range expired {
			err := m.db.Transaction(func(tx *gorm.DB) error {
				if err := tx.Exec(dropDDL(p.Name)).Error; err != nil {
					return err
				}
				return tx.Unscoped().Delete(&Partition{}, p.ID).Error
			})
			if err != nil {
				logger.Error().Err(err).Str("partition", p.Name).Msg("failed to drop expired partition")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			logger.Warn().
				Str("partition", p.Name).
				Time("range_end", p.RangeEnd).
				Int("retention_months", policy.RetentionMonths).
				Msg("dropped expired partition")
			dropped++
		}
	}
	return dropped, firstErr
}

// Partitions lists the registry for a parent table, oldest first.
func (m *Manager) Partitions(parent string) ([]Partition, error) {
	var out []Partition
	if err := m.db.Where("parent = ?", parent).Order("range_start ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

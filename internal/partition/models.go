package partition

import (
	"time"

	"gorm.io/gorm"
)

// Partition is the registry row for one physical time-range partition. The
// registry is what makes creation idempotent and retention O(1) in row count:
// retirement consults ranges here and drops whole tables, never row ranges.
type Partition struct {
	gorm.Model
	Parent     string    `gorm:"index" json:"parent"`
	Name       string    `gorm:"uniqueIndex" json:"name"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
}

func (Partition) TableName() string { return "partitions" }

// RetentionPolicy maps a parent table to how long its partitions are kept.
type RetentionPolicy struct {
	gorm.Model
	Parent          string `gorm:"uniqueIndex" json:"parent"`
	RetentionMonths int    `json:"retention_months"`
}

func (RetentionPolicy) TableName() string { return "retention_policies" }

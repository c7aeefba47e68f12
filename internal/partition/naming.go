package partition

import (
	"fmt"
	"time"
)

// timeRange is one contiguous partition range: [Start, End).
type timeRange struct {
	Start time.Time
	End   time.Time
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// monthlyRanges returns the current month plus horizon months ahead.
func monthlyRanges(now time.Time, horizon int) []timeRange {
	out := make([]timeRange, 0, horizon+1)
	start := monthStart(now)
	for i := 0; i <= horizon; i++ {
		end := start.AddDate(0, 1, 0)
		out = append(out, timeRange{Start: start, End: end})
		start = end
	}
	return out
}

// dailyRanges returns the current day plus horizon days ahead.
func dailyRanges(now time.Time, horizon int) []timeRange {
	out := make([]timeRange, 0, horizon+1)
	start := dayStart(now)
	for i := 0; i <= horizon; i++ {
		end := start.AddDate(0, 0, 1)
		out = append(out, timeRange{Start: start, End: end})
		start = end
	}
	return out
}

// monthlyPartitionName is deterministic from the range start: orders_y2026m09.
func monthlyPartitionName(parent string, start time.Time) string {
	return fmt.Sprintf("%s_y%04dm%02d", parent, start.Year(), int(start.Month()))
}

// dailyPartitionName is deterministic from the range start: trades_y2026m09d01.
func dailyPartitionName(parent string, start time.Time) string {
	return fmt.Sprintf("%s_y%04dm%02dd%02d", parent, start.Year(), int(start.Month()), start.Day())
}

const ddlTimeLayout = "2006-01-02 15:04:05"

// createDDL builds the partition-creation statement. On postgres this is a
// real declarative partition; on sqlite (dev and tests, no native
// partitioning) it degrades to a shadow table so creation and retention stay
// exercisable.
func createDDL(dialect, parent, name string, rng timeRange) string {
	if dialect == "postgres" {
		return fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
			name, parent, rng.Start.Format(ddlTimeLayout), rng.End.Format(ddlTimeLayout),
		)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM %s WHERE 0", name, parent)
}

func dropDDL(name string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", name)
}

package tasks

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron specs per frequency. Daily and weekly runs land at 02:00 UTC so
// recurring work naturally falls inside the maintenance window.
var frequencySpecs = map[Frequency]string{
	FrequencyHourly:  "0 * * * *",
	FrequencyDaily:   "0 2 * * *",
	FrequencyWeekly:  "0 2 * * 0",
	FrequencyMonthly: "0 2 1 * *",
}

// NextRun computes the next run time for a frequency after the given time.
func NextRun(f Frequency, after time.Time) (time.Time, error) {
	spec, ok := frequencySpecs[f]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown frequency: %s", f)
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron spec %q: %w", spec, err)
	}
	return schedule.Next(after.UTC()), nil
}

const (
	backoffBase = 60 * time.Second
	backoffCap  = 300 * time.Second
)

// Backoff returns the retry delay after retryCount prior failures:
// 60s, 120s, 240s, then capped at 300s.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := backoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

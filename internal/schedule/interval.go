// Package schedule owns the per-topic polling cadence and its normal/critical
// status.
package schedule

import "time"

const maxImportance = 10

// IntervalFor scales base by importance: 10 gives half of base, 0 gives base.
// Importance outside 0..10 is clamped and the result is truncated to whole
// seconds, never below one.
func IntervalFor(importance int, base time.Duration) time.Duration {
	importance = max(0, min(importance, maxImportance))
	factor := 0.5 + (1-float64(importance)/maxImportance)*0.5
	return max(time.Duration(float64(base)*factor).Truncate(time.Second), time.Second)
}

// Intervals derives both intervals of a topic. The critical interval is
// clamped so it never exceeds the normal one.
func Intervals(importance int, normalBase, criticalBase time.Duration) (normal, critical time.Duration) {
	normal = IntervalFor(importance, normalBase)
	critical = min(IntervalFor(importance, criticalBase), normal)
	return normal, critical
}

package planner

import (
	"fmt"
	"hash/fnv"

	"github.com/robfig/cron/v3"

	"github.com/evalgo/spprobe/domain"
)

// cronParser only ever calls ParseStandard to turn an expression into a
// cron.Schedule whose Next(t) we drive ourselves — the planner owns its
// own tick loop and advisory lock, it never starts cron's own background
// scheduler.
var cronParser = cron.ParseStandard

// staggeredCronExpr builds a deterministic 5-field cron expression so that
// SP-keyed jobs of the same family fire staggered across the interval
// (hash-based per-SP offset) and different families are offset from each
// other by familyOffsetSeconds. Intervals are expressed at minute
// granularity, the finest grain standard cron supports.
func staggeredCronExpr(intervalSeconds, familyOffsetSeconds int, spAddress string, family domain.JobFamily) string {
	minuteInterval := intervalSeconds / 60
	if minuteInterval < 1 {
		minuteInterval = 1
	}

	spOffset := int(hashString(spAddress+string(family)) % uint32(minuteInterval))
	familyOffset := familyOffsetSeconds / 60
	offset := (spOffset + familyOffset) % minuteInterval

	if minuteInterval == 1 {
		return "* * * * *"
	}
	return fmt.Sprintf("%d-59/%d * * * *", offset, minuteInterval)
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// parseSchedule parses expr with the standard 5-field cron grammar.
func parseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser(expr)
	if err != nil {
		return nil, fmt.Errorf("planner: parse cron expression %q: %w", expr, err)
	}
	return sched, nil
}

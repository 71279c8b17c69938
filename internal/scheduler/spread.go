package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Startup spread keeps many collections from all polling in the same
// instant after a restart. The first firing of each schedule is pushed
// out by a per-schedule random offset, capped so short intervals never
// wait more than one extra cycle.
const maxStartupSpread = 30 * time.Second

var spreadSeq atomic.Uint64

// spreadSchedule delays the first firing to a fixed instant and then
// behaves like the wrapped schedule.
type spreadSchedule struct {
	cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.Schedule.Next(t)
}

func intervalWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return base, 0
	}

	h := fnv.New64a()
	h.Write([]byte(tag))
	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(h.Sum64())
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(limit)))
	return &spreadSchedule{Schedule: base, first: now.Add(every + jitter)}, jitter
}

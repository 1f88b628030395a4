package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Tiers, by rolling attendance percentage.
const (
	TierGood     = "good"     // >= 85
	TierWarning  = "warning"  // 75–84
	TierCritical = "critical" // < 75
)

// Stat is the derived per-(student, course) aggregate. It is a read-through
// view over records and sessions, never authoritative.
type Stat struct {
	StudentID        string    `json:"student_id"`
	CourseID         string    `json:"course_id"`
	TotalSessions    int       `json:"total_sessions"`
	AttendedSessions int       `json:"attended_sessions"`
	Percentage       float64   `json:"percentage"`
	Tier             string    `json:"tier"`
	ComputedAt       time.Time `json:"computed_at"`
}

// TierFor classifies a percentage.
func TierFor(pct float64) string {
	switch {
	case pct < 75:
		return TierCritical
	case pct < 85:
		return TierWarning
	default:
		return TierGood
	}
}

// Compute builds a Stat from raw counts. Zero completed sessions yields 100%
// and the good tier; the zero TotalSessions field lets callers render
// "no data" and keeps policy alerts off an empty denominator.
func Compute(studentID, courseID string, total, attended int, now time.Time) Stat {
	if attended > total {
		attended = total
	}
	pct := 100.0
	if total > 0 {
		pct = float64(attended) / float64(total) * 100
	}
	return Stat{
		StudentID:        studentID,
		CourseID:         courseID,
		TotalSessions:    total,
		AttendedSessions: attended,
		Percentage:       pct,
		Tier:             TierFor(pct),
		ComputedAt:       now,
	}
}

// Source supplies the raw counts: completed sessions for the course in range,
// and the student's present/late records among them.
type Source interface {
	Counts(ctx context.Context, studentID, courseID string, from, to time.Time) (total, attended int, err error)
}

// Aggregator serves rolling attendance stats with a bounded-staleness Redis
// cache. Only the unbounded (no date range) query is cached; ranged queries
// always recompute.
type Aggregator struct {
	src   Source
	cache *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

// NewAggregator wires the aggregator. cache may be nil to disable caching.
func NewAggregator(src Source, cache *redis.Client, ttl time.Duration, log zerolog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Aggregator{src: src, cache: cache, ttl: ttl, log: log, now: time.Now}
}

func cacheKey(studentID, courseID string) string {
	return "stats:" + studentID + ":" + courseID
}

func tierKey(studentID, courseID string) string {
	return "tier:" + studentID + ":" + courseID
}

// GetStats returns the rolling aggregate for the student and course. Zero
// from/to mean an unbounded range.
func (a *Aggregator) GetStats(ctx context.Context, studentID, courseID string, from, to time.Time) (Stat, error) {
	cacheable := a.cache != nil && from.IsZero() && to.IsZero()

	if cacheable {
		if raw, err := a.cache.Get(ctx, cacheKey(studentID, courseID)).Result(); err == nil {
			var st Stat
			if json.Unmarshal([]byte(raw), &st) == nil {
				return st, nil
			}
		}
	}

	total, attended, err := a.src.Counts(ctx, studentID, courseID, from, to)
	if err != nil {
		return Stat{}, err
	}
	st := Compute(studentID, courseID, total, attended, a.now().UTC())

	if cacheable {
		if payload, err := json.Marshal(st); err == nil {
			if err := a.cache.Set(ctx, cacheKey(studentID, courseID), payload, a.ttl).Err(); err != nil {
				a.log.Debug().Err(err).Msg("stats cache write failed")
			}
		}
	}
	return st, nil
}

// Invalidate drops the cached aggregate after a write touching the pair.
func (a *Aggregator) Invalidate(ctx context.Context, studentID, courseID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Del(ctx, cacheKey(studentID, courseID)).Err(); err != nil {
		a.log.Debug().Err(err).Msg("stats cache invalidate failed")
	}
}

// TierTransition recomputes the tier and compares it against the last
// observed one (kept in Redis). Returns the previous and current tiers and
// whether they differ. The first observation never reports a transition.
func (a *Aggregator) TierTransition(ctx context.Context, studentID, courseID string) (prev, cur string, changed bool, err error) {
	st, err := a.GetStats(ctx, studentID, courseID, time.Time{}, time.Time{})
	if err != nil {
		return "", "", false, err
	}
	cur = st.Tier

	if a.cache == nil {
		return "", cur, false, nil
	}

	key := tierKey(studentID, courseID)
	prev, getErr := a.cache.Get(ctx, key).Result()
	if getErr != nil && getErr != redis.Nil {
		return "", cur, false, getErr
	}
	if err := a.cache.Set(ctx, key, cur, 0).Err(); err != nil {
		a.log.Debug().Err(err).Msg("tier state write failed")
	}
	if getErr == redis.Nil {
		return "", cur, false, nil
	}
	return prev, cur, prev != cur, nil
}

package alerts

import (
	"fmt"
	"sync"
	"time"
)

// triggerState tracks which (rule, symbol) pairs already fired in the
// current window bucket, so a rule fires at most once per window.
type triggerState struct {
	mu    sync.Mutex
	fired map[string]time.Time // key -> bucket start
}

func newTriggerState() *triggerState {
	return &triggerState{
		fired: make(map[string]time.Time),
	}
}

// shouldFire records the fire and returns true when the pair has not yet
// fired in the bucket containing now.
func (s *triggerState) shouldFire(ruleID int64, symbol string, window time.Duration, now time.Time) bool {
	bucket := now.Truncate(window)
	key := fmt.Sprintf("%d:%s", ruleID, symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.fired[key]; ok && last.Equal(bucket) {
		return false
	}
	s.fired[key] = bucket
	return true
}

// prune drops entries whose bucket ended more than a day ago
func (s *triggerState) prune(now time.Time) {
	cutoff := now.Add(-48 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, bucket := range s.fired {
		if bucket.Before(cutoff) {
			delete(s.fired, key)
		}
	}
}

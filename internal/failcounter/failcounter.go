// Package failcounter implements the per-cycle failure budget described in
// spec.md §4.3: a sparse fail timeline plus total/consecutive counters that
// decide whether another page may be skipped and whether a finished cycle
// still counts as completed.
package failcounter

import "sync"

// entry is a timeline slot: either a failed page id or a success separator.
type entry struct {
	separator bool
	page      any
	hasPage   bool
}

// Policy carries the budget fields the counter checks against. It is a
// narrow view of the validated scheduler options (spec §3 policy group).
// Callers that want an effectively unlimited budget pass math.MaxInt; 0 or
// a negative value is a deliberate, valid setting meaning the first failed
// page already exceeds budget (spec §8 boundary behavior).
type Policy struct {
	SkipPageIfPossible      bool
	MaxTotalPageFails       int
	MaxConsecutivePageFails int
}

// Counter tracks the failure timeline for one cycle.
type Counter struct {
	mu sync.Mutex

	policy Policy

	timeline             []entry
	totalPageFails       int
	consecutivePageFails int
}

// New creates a Counter bound to policy for the duration of one cycle.
func New(policy Policy) *Counter {
	return &Counter{policy: policy}
}

// Success resets the consecutive counter and, if the timeline's last entry
// was a failure, inserts a separator so consecutive runs stay distinguishable.
func (c *Counter) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutivePageFails = 0
	if n := len(c.timeline); n > 0 && !c.timeline[n-1].separator {
		c.timeline = append(c.timeline, entry{separator: true})
	}
}

// Fail records a failed page (page may be nil when the driver has no
// natural page identifier, e.g. List tracking by index elsewhere) and
// reports true when the caller may not skip another page under policy.
func (c *Counter) Fail(page any) (cannotSkipMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalPageFails++
	c.consecutivePageFails++
	c.timeline = append(c.timeline, entry{page: page, hasPage: true})

	return !c.withinBudgetLocked(c.totalPageFails, c.consecutivePageFails)
}

// Complete recomputes totals restricted to pages <= lastPage (when
// supplied, i.e. not nil) so pages discovered past the true final page
// don't count as failures, then re-applies the same budget check to decide
// whether the cycle counts as completed.
func (c *Counter) Complete(lastPage any) (cycleCountsAsCompleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lastPage == nil {
		return c.withinBudgetLocked(c.totalPageFails, c.consecutivePageFails)
	}

	limit, ok := lastPage.(int)
	if !ok {
		return c.withinBudgetLocked(c.totalPageFails, c.consecutivePageFails)
	}

	total := 0
	consecutive := 0
	maxConsecutive := 0
	for _, e := range c.timeline {
		if e.separator {
			consecutive = 0
			continue
		}
		if e.hasPage {
			if p, ok := e.page.(int); ok && p > limit {
				continue
			}
		}
		total++
		consecutive++
		if consecutive > maxConsecutive {
			maxConsecutive = consecutive
		}
	}

	return c.withinBudgetLocked(total, maxConsecutive)
}

func (c *Counter) withinBudgetLocked(total, consecutive int) bool {
	if !c.policy.SkipPageIfPossible {
		return false
	}
	if total > c.policy.MaxTotalPageFails {
		return false
	}
	if consecutive > c.policy.MaxConsecutivePageFails {
		return false
	}
	return true
}

// TotalPageFails returns the running total failure count.
func (c *Counter) TotalPageFails() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalPageFails
}

// ConsecutivePageFails returns the running consecutive failure count.
func (c *Counter) ConsecutivePageFails() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutivePageFails
}

package gamification

// StreakResult is the output of a streak scan.
type StreakResult struct {
	Current int `json:"currentStreak"`
	Longest int `json:"longestStreak"`
}

type dayStatus int

const (
	dayBroken   dayStatus = iota // incomplete and not frozen
	dayMissing                   // no record
	dayComplete                  // predicate satisfied
	dayFrozen                    // incomplete but excused by a freeze token
)

// StreakCalculator computes consecutive-day streaks over the activity
// ledger. A frozen day bridges a run and counts toward it; a run made only
// of frozen days counts as zero. A single missing day next to a frozen day
// is skipped without breaking the run or counting toward it; two missing
// days in a row always break it. Today is pending until it is complete or
// frozen, so an unfinished today neither extends nor breaks the run.
type StreakCalculator struct {
	complete DayPredicate
}

// NewStreakCalculator returns a calculator using complete as the
// definition of a finished day.
func NewStreakCalculator(complete DayPredicate) *StreakCalculator {
	return &StreakCalculator{complete: complete}
}

type streakIndex struct {
	calc     *StreakCalculator
	byDay    map[string]ActivityRecord
	earliest Day
}

func (c *StreakCalculator) index(records []ActivityRecord, today Day) streakIndex {
	idx := streakIndex{calc: c, byDay: make(map[string]ActivityRecord, len(records))}
	for _, rec := range records {
		if rec.Date.IsZero() || rec.Date.After(today) {
			continue
		}
		idx.byDay[rec.Date.String()] = rec
		if idx.earliest.IsZero() || rec.Date.Before(idx.earliest) {
			idx.earliest = rec.Date
		}
	}
	return idx
}

func (idx streakIndex) status(d Day) dayStatus {
	rec, ok := idx.byDay[d.String()]
	if !ok {
		return dayMissing
	}
	if idx.calc.complete(rec) {
		return dayComplete
	}
	if rec.StreakFrozen {
		return dayFrozen
	}
	return dayBroken
}

// bridged reports whether d is a lone missing day with a frozen neighbour.
func (idx streakIndex) bridged(d Day) bool {
	if idx.status(d) != dayMissing {
		return false
	}
	prev, next := idx.status(d.AddDays(-1)), idx.status(d.AddDays(1))
	if prev == dayMissing || next == dayMissing {
		return false
	}
	return prev == dayFrozen || next == dayFrozen
}

// pending reports whether today has nothing that extends the run yet.
func (idx streakIndex) pending(today Day) bool {
	st := idx.status(today)
	return st == dayBroken || st == dayMissing
}

// Compute scans records (in any order) relative to today.
func (c *StreakCalculator) Compute(records []ActivityRecord, today Day) StreakResult {
	idx := c.index(records, today)
	if len(idx.byDay) == 0 {
		return StreakResult{}
	}
	todayPending := idx.pending(today)

	current := idx.currentRun(today, todayPending)

	longest := 0
	var run streakRun
	for d := idx.earliest; !d.After(today); d = d.AddDays(1) {
		if todayPending && d.Equal(today) {
			break
		}
		st := idx.status(d)
		if idx.bridged(d) {
			continue
		}
		if st == dayBroken || st == dayMissing {
			run = streakRun{}
			continue
		}
		run.add(st)
		longest = max(longest, run.length())
	}

	return StreakResult{Current: current, Longest: max(longest, current)}
}

// Current returns only the run ending today (or yesterday when today is pending).
func (c *StreakCalculator) Current(records []ActivityRecord, today Day) int {
	idx := c.index(records, today)
	if len(idx.byDay) == 0 {
		return 0
	}
	return idx.currentRun(today, idx.pending(today))
}

func (idx streakIndex) currentRun(today Day, todayPending bool) int {
	cursor := today
	if todayPending {
		cursor = today.AddDays(-1)
	}
	var run streakRun
	for !cursor.Before(idx.earliest) {
		st := idx.status(cursor)
		if !idx.bridged(cursor) {
			if st == dayBroken || st == dayMissing {
				break
			}
			run.add(st)
		}
		cursor = cursor.AddDays(-1)
	}
	return run.length()
}

type streakRun struct {
	days     int
	complete bool
}

func (r *streakRun) add(st dayStatus) {
	r.days++
	if st == dayComplete {
		r.complete = true
	}
}

func (r streakRun) length() int {
	if !r.complete {
		return 0
	}
	return r.days
}

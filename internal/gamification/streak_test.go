package gamification

import (
	"math/rand/v2"
	"testing"
)

var today = NewDay(2024, 3, 6)

func complete(d Day) ActivityRecord {
	return ActivityRecord{Date: d, Water: true, CleanDiet: true, Workout: true, ProteinGrams: 150}
}

func partial(d Day) ActivityRecord {
	return ActivityRecord{Date: d, Water: true}
}

func frozen(d Day) ActivityRecord {
	return ActivityRecord{Date: d, StreakFrozen: true}
}

// days builds records for offsets relative to today using fn.
func days(fn func(Day) ActivityRecord, offsets ...int) []ActivityRecord {
	out := make([]ActivityRecord, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, fn(today.AddDays(off)))
	}
	return out
}

func join(groups ...[]ActivityRecord) []ActivityRecord {
	var out []ActivityRecord
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func TestStreakCompute(t *testing.T) {
	tests := []struct {
		name        string
		records     []ActivityRecord
		wantCurrent int
		wantLongest int
	}{
		{"empty history", nil, 0, 0},
		{"five days through today", days(complete, -4, -3, -2, -1, 0), 5, 5},
		{"today missing is pending", days(complete, -3, -2, -1), 3, 3},
		{"today incomplete is pending", join(days(complete, -2, -1), days(partial, 0)), 2, 2},
		{"yesterday missing breaks", days(complete, -4, -3, -2, 0), 1, 3},
		{
			"longest earlier run survives",
			join(days(complete, -10, -9, -8, -7, -6, -5), days(complete, -3, -2, -1, 0)),
			4, 6,
		},
		{"frozen day bridges and counts", join(days(complete, -4, -3, -1, 0), days(frozen, -2)), 5, 5},
		{"frozen today extends", join(days(complete, -2, -1), days(frozen, 0)), 3, 3},
		{"frozen only run is zero", days(frozen, -1, 0), 0, 0},
		{"frozen today skips missing yesterday", join(days(complete, -3, -2), days(frozen, 0)), 3, 3},
		{"frozen yesterday skips missing day before", join(days(complete, -4, -3), days(frozen, -1)), 3, 3},
		{"frozen day skips missing day after it", join(days(complete, -4, -3, 0), days(frozen, -2)), 4, 4},
		{"missing day between two complete days breaks", join(days(complete, -4, -3, -1, 0), days(frozen, -5)), 2, 3},
		{"missing day between frozen and complete", join(days(complete, -5, -4), days(frozen, -3), days(complete, -1, 0)), 5, 5},
		{"two missing days still break", join(days(complete, -4, -3), days(frozen, 0)), 0, 2},
		{"missing day without freeze breaks", days(complete, -3, -2, 0), 1, 2},
		{"missing day before frozen-only run", join(days(complete, -3), days(frozen, -1, 0)), 3, 3},
		{"incomplete past day breaks", join(days(complete, -3, -2), days(partial, -1), days(complete, 0)), 1, 2},
		{"future records ignored", join(days(complete, -1, 0), days(complete, 1, 2, 3)), 2, 2},
		{"old history only", days(complete, -20, -19, -18), 0, 3},
	}

	calc := NewStreakCalculator(DefaultRules().DayPredicate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Compute(tt.records, today)
			if got.Current != tt.wantCurrent {
				t.Errorf("Current = %d, want %d", got.Current, tt.wantCurrent)
			}
			if got.Longest != tt.wantLongest {
				t.Errorf("Longest = %d, want %d", got.Longest, tt.wantLongest)
			}
			if c := calc.Current(tt.records, today); c != got.Current {
				t.Errorf("Current() = %d, Compute().Current = %d", c, got.Current)
			}
		})
	}
}

func TestStreakRecordOrderIrrelevant(t *testing.T) {
	calc := NewStreakCalculator(DefaultRules().DayPredicate())
	recs := join(days(complete, 0, -1, -5, -2, -6, -3))
	got := calc.Compute(recs, today)
	if got.Current != 4 || got.Longest != 4 {
		t.Errorf("got %+v, want current=4 longest=4", got)
	}
}

func TestStreakCustomPredicate(t *testing.T) {
	rules := DefaultRules()
	rules.StreakQuests = []Quest{QuestWater}
	calc := NewStreakCalculator(rules.DayPredicate())

	got := calc.Compute(days(partial, -2, -1, 0), today)
	if got.Current != 3 {
		t.Errorf("Current = %d, want 3 with water-only predicate", got.Current)
	}
}

func TestStreakProteinThreshold(t *testing.T) {
	rules := DefaultRules()
	rules.StreakQuests = []Quest{QuestProtein}
	calc := NewStreakCalculator(rules.DayPredicate())

	recs := []ActivityRecord{
		{Date: today.AddDays(-1), ProteinGrams: 149},
		{Date: today, ProteinGrams: 150},
	}
	if got := calc.Compute(recs, today); got.Current != 1 {
		t.Errorf("Current = %d, want 1 (149g is below threshold)", got.Current)
	}
}

func TestStreakLongestNeverBelowCurrent(t *testing.T) {
	calc := NewStreakCalculator(DefaultRules().DayPredicate())
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		var recs []ActivityRecord
		for off := -40; off <= 0; off++ {
			switch rng.IntN(4) {
			case 0:
				// missing
			case 1:
				recs = append(recs, partial(today.AddDays(off)))
			case 2:
				recs = append(recs, frozen(today.AddDays(off)))
			default:
				recs = append(recs, complete(today.AddDays(off)))
			}
		}
		got := calc.Compute(recs, today)
		if got.Longest < got.Current {
			t.Fatalf("iteration %d: longest %d < current %d", i, got.Longest, got.Current)
		}
	}
}

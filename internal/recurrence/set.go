package recurrence

import (
	"strings"
	"time"
)

// Set is an ordered collection of rules attached to one reminder. Order is
// preserved for display only; the next trigger of the set is the earliest of
// the members' triggers.
type Set []Rule

// Validate checks every member rule.
func (s Set) Validate() error {
	for _, r := range s {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Next computes the next trigger for every rule, discards exhausted ones, and
// returns the advanced set together with the minimum trigger. A zero trigger
// means every rule is exhausted. On error the original set is returned
// unchanged so a bad rule never half-commits bookkeeping.
func (s Set) Next(lastFired, now time.Time, loc *time.Location) (Set, time.Time, error) {
	if len(s) == 0 {
		return s, time.Time{}, nil
	}
	out := make(Set, len(s))
	copy(out, s)
	var best time.Time
	for i := range out {
		nr, t, err := out[i].Next(lastFired, now, loc)
		if err != nil {
			return s, time.Time{}, err
		}
		out[i] = nr
		if t.IsZero() {
			continue
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	return out, best, nil
}

// Describe renders one line per rule for list/info output.
func (s Set) Describe() string {
	if len(s) == 0 {
		return "no repeat rules"
	}
	lines := make([]string, len(s))
	for i, r := range s {
		lines[i] = r.Describe()
	}
	return strings.Join(lines, "\n")
}

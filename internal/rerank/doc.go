// Package rerank derives the empathy, clarity, energy and wisdom quality
// metrics of a chip and reorders scored candidates by the metric matching
// the current interaction mode.
//
// # Metrics
//
// Each metric adds a tag credit for every distinct matching signal tag and
// a pattern credit for every matching phrase pattern, capped at 1.0:
//
//	ev := rerank.New(rules.MustDefault())
//	m := ev.Measure(&chip)
//	m.Sum() // input to the bland filter
//
// # Ordering
//
// Rerank sorts by the mode's metric first. The unified score and then the
// chip ID break ties, so two runs over the same pool always agree.
package rerank

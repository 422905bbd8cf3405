// Package scorer computes the unified score of a candidate chip.
//
// The score is the product of three terms:
//
//   - intent term: 1.0 for a category match, 0.5 for a related pair, else 0.2
//   - mode multiplier: tiered boosts for the mode's tags, floored at 0.8 for
//     opposing tags without a compensating boost
//   - persona multiplier: additive phrase and category adjustments clamped
//     to the persona bounds
//
// When search supplied a similarity, the weighted similarity is added on
// top. Score is pure; the Breakdown it returns feeds the trace builder.
package scorer

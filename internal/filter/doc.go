// Package filter implements the binary gates of the ranking pipeline.
//
// Compatibility and Authenticity are per-chip predicates evaluated before
// scoring. IsBland gates on summed quality metrics. LimitDiversity runs on
// the ordered result list and caps how many chips of one category survive.
// None of them reorder their input.
package filter

// Package trace projects ranking decisions into short key:value strings.
//
// Traces are built after every score is final and are never read back by
// ranking logic. Build formats one chip; Summary formats the query-level
// context shared by all chips.
package trace

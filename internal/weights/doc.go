// Package weights blends an interaction mode and a user archetype into a
// normalized topical/tactical/emotional weight vector.
package weights

// Package memindex holds chips and their vectors in an in-process
// chromem-go collection and serves candidate search from memory.
//
// The index is filled once at startup from the SQLite store and then
// answers SearchCandidates without touching the database:
//
//	idx, err := memindex.New(logger)
//	if err != nil {
//	    return err
//	}
//	if _, err := idx.LoadFromStore(ctx, store); err != nil {
//	    return err
//	}
//	chips, err := idx.SearchCandidates(ctx, queryVec, 30)
//
// All vectors in one index share a dimension. Similarities are clamped into
// [0, 1] and equal similarities are ordered by chip ID.
package memindex

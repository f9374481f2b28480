// Package ranking provides an ordered score index. The stats collector
// uses it to keep top-player lists cheap to read while entries churn.
package ranking

import "rankboard/core"

// Entry is one indexed score.
type Entry struct {
	ID    core.EntryID
	Score int64
}

// Index abstracts ordered score operations.
type Index interface {
	Update(id core.EntryID, score int64)
	Remove(id core.EntryID)
	TopN(n int) []Entry
	Get(id core.EntryID) (Entry, bool)
}

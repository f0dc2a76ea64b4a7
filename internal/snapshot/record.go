// Package snapshot models the snapshot chain of a backup configuration: the
// ordered snapshot records, the per-snapshot update lists, and the virtual
// remote tree obtained by replaying them.
package snapshot

import (
	"sort"
	"time"

	"github.com/imedwei/file-backup/internal/utils"
)

// Record identifies one completed snapshot.
type Record struct {
	UUID      string
	Timestamp float64 // Unix seconds
	TimeStr   string
}

// NewRecord creates a record for a snapshot taken at t.
func NewRecord(uuid string, t time.Time) Record {
	return Record{
		UUID:      uuid,
		Timestamp: utils.UnixSeconds(t),
		TimeStr:   utils.FormatTimestamp(t),
	}
}

// Time returns the record timestamp.
func (r Record) Time() time.Time {
	return utils.FromUnixSeconds(r.Timestamp)
}

// Chain is the list of snapshot records of one configuration, ordered by
// timestamp ascending.
type Chain []Record

// Append returns the chain with r inserted in timestamp order. Records with
// equal timestamps keep insertion order.
func (c Chain) Append(r Record) Chain {
	out := append(append(Chain{}, c...), r)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Find returns the record with the given uuid.
func (c Chain) Find(uuid string) (Record, bool) {
	for _, r := range c {
		if r.UUID == uuid {
			return r, true
		}
	}
	return Record{}, false
}

// Has reports whether uuid is already used in the chain.
func (c Chain) Has(uuid string) bool {
	_, ok := c.Find(uuid)
	return ok
}

// Until returns the records with timestamp at or before ts.
func (c Chain) Until(ts float64) Chain {
	var out Chain
	for _, r := range c {
		if r.Timestamp <= ts {
			out = append(out, r)
		}
	}
	return out
}

// Last returns the newest record.
func (c Chain) Last() (Record, bool) {
	if len(c) == 0 {
		return Record{}, false
	}
	return c[len(c)-1], true
}

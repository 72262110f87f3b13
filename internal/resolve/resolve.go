// Package resolve decides which of two same-identity session copies is
// canonical, and which remote records are duplicates.
//
// Resolution operates at whole-record granularity: one copy wins, the
// other is discarded. There is no field-by-field merge.
package resolve

import (
	"sort"

	"github.com/kastlog/kastlog/internal/model"
	"github.com/kastlog/kastlog/internal/store"
)

// ShouldOverwrite reports whether candidate should replace existing.
// Both arguments describe the same logical session.
//
// Precedence, fixed and in order:
//  1. candidate shows strictly greater progress on BOTH totals: overwrite.
//  2. candidate shows strictly lower progress on BOTH totals: keep the
//     existing copy, even when the candidate's ModifiedAt is newer. A
//     stale device that re-saved an old snapshot must never regress
//     progress recorded by another device.
//  3. otherwise the newer ModifiedAt wins; an exact tie keeps the
//     existing copy, so re-saving identical content is a no-op.
func ShouldOverwrite(candidate, existing *model.Session) bool {
	if candidate.TotalKubbs > existing.TotalKubbs && candidate.TotalBatons > existing.TotalBatons {
		return true
	}
	if candidate.TotalKubbs < existing.TotalKubbs && candidate.TotalBatons < existing.TotalBatons {
		return false
	}
	return candidate.ModifiedAt.After(existing.ModifiedAt)
}

// CanonicalRecord picks the canonical record from copies of one logical
// session: greatest ModifiedAt, ties broken by record id so the choice is
// stable across runs. Returns nil for an empty group.
func CanonicalRecord(group []*store.Record) *store.Record {
	var best *store.Record
	for _, rec := range group {
		if best == nil {
			best = rec
			continue
		}
		if rec.ModifiedAt.After(best.ModifiedAt) ||
			(rec.ModifiedAt.Equal(best.ModifiedAt) && rec.RecordID > best.RecordID) {
			best = rec
		}
	}
	return best
}

// Canonical collapses remote records to one per logical session id and
// orders the result by CreatedAt descending, matching the local store's
// collection order.
func Canonical(records []*store.Record) []*store.Record {
	groups := groupBySession(records)

	out := make([]*store.Record, 0, len(groups))
	for _, group := range groups {
		out = append(out, CanonicalRecord(group))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Duplicates returns the record ids that a deduplication sweep should
// delete: every record that is not its session's canonical copy. Running
// the sweep against already-unique records yields nothing (idempotent).
func Duplicates(records []*store.Record) []string {
	groups := groupBySession(records)

	var ids []string
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keep := CanonicalRecord(group)
		for _, rec := range group {
			if rec.RecordID != keep.RecordID {
				ids = append(ids, rec.RecordID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func groupBySession(records []*store.Record) map[string][]*store.Record {
	groups := make(map[string][]*store.Record)
	for _, rec := range records {
		groups[rec.SessionID] = append(groups[rec.SessionID], rec)
	}
	return groups
}

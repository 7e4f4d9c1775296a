package sqlrepo

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/repokit/internal/querysql"
	"github.com/roach88/repokit/internal/repository"
)

// hydrator folds joined rows into nested records.
//
// Each row carries one column group per segment. A root appears once per
// distinct root id, in first-seen order; has-many relations collect their
// distinct rows into lists and single relations hold a record or nil.
type hydrator struct {
	segments []querysql.Segment
	offsets  []int
	children map[string][]querysql.Segment

	roots []repository.Record
	// seen maps a record key (parent key + path + id) to its record.
	seen map[string]repository.Record
}

func newHydrator(segments []querysql.Segment) *hydrator {
	h := &hydrator{
		segments: segments,
		offsets:  make([]int, len(segments)),
		children: map[string][]querysql.Segment{},
		roots:    []repository.Record{},
		seen:     map[string]repository.Record{},
	}
	n := 0
	for i, seg := range segments {
		h.offsets[i] = n
		n += len(seg.Columns)
		if i > 0 {
			h.children[seg.Parent] = append(h.children[seg.Parent], seg)
		}
	}
	return h
}

func (h *hydrator) width() int {
	if len(h.segments) == 0 {
		return 0
	}
	last := len(h.segments) - 1
	return h.offsets[last] + len(h.segments[last].Columns)
}

// add folds one row.
func (h *hydrator) add(values []any) {
	// keys holds the record key of each path in this row, "" when the row
	// has no record at that path.
	keys := make(map[string]string, len(h.segments))
	records := make(map[string]repository.Record, len(h.segments))

	for i, seg := range h.segments {
		cols := values[h.offsets[i] : h.offsets[i]+len(seg.Columns)]
		id := normalize(cols[0])

		if i == 0 {
			key := "#" + fmt.Sprint(id)
			rec, ok := h.seen[key]
			if !ok {
				rec = h.newRecord(seg, cols)
				h.seen[key] = rec
				h.roots = append(h.roots, rec)
			}
			keys[seg.Path] = key
			records[seg.Path] = rec
			continue
		}

		parentKey := keys[seg.Parent]
		parent := records[seg.Parent]
		if parent == nil || id == nil {
			continue
		}

		key := parentKey + "/" + seg.Path + "#" + fmt.Sprint(id)
		rec, ok := h.seen[key]
		if !ok {
			rec = h.newRecord(seg, cols)
			h.seen[key] = rec
			if seg.Many {
				list, _ := parent[seg.Relation].([]repository.Record)
				parent[seg.Relation] = append(list, rec)
			} else {
				parent[seg.Relation] = rec
			}
		}
		keys[seg.Path] = key
		records[seg.Path] = rec
	}
}

// newRecord builds a record from a column group and seeds its includes:
// empty lists for has-many relations, nil for single ones.
func (h *hydrator) newRecord(seg querysql.Segment, cols []any) repository.Record {
	rec := make(repository.Record, len(seg.Columns)+len(h.children[seg.Path]))
	for i, col := range seg.Columns {
		rec[col] = normalize(cols[i])
	}
	for _, child := range h.children[seg.Path] {
		if child.Many {
			rec[child.Relation] = []repository.Record{}
		} else {
			rec[child.Relation] = nil
		}
	}
	return rec
}

func (h *hydrator) records() []repository.Record {
	return h.roots
}

// normalize converts driver values to record values.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case [16]byte:
		// pgx returns uuid columns as raw bytes
		return uuid.UUID(val).String()
	default:
		return v
	}
}

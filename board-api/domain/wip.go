package domain

// Violation describes a column whose occupancy would break its limit.
type Violation struct {
	ColumnKey string `json:"columnKey"`
	WIP       int    `json:"wip"`
	Count     int    `json:"count"`
}

// CheckMove validates adding one task to col, which currently holds count
// board tasks. It returns nil when the move is allowed.
func CheckMove(col Column, count int) *Violation {
	limit := col.Limit()
	if col.Key == BacklogKey || limit == 0 {
		return nil
	}
	if count >= limit {
		return &Violation{ColumnKey: col.Key, WIP: limit, Count: count}
	}
	return nil
}

// Move is one proposed placement change in a batch. Placement values are
// column keys or BacklogKey.
type Move struct {
	TaskID string
	From   string
	To     string
}

// CheckBatch applies moves to baseline (board occupancy per column key) and
// reports every column whose resulting count exceeds its limit, in column
// order. baseline is not modified.
func CheckBatch(columns []Column, baseline map[string]int, moves []Move) []Violation {
	counts := make(map[string]int, len(baseline))
	for k, v := range baseline {
		counts[k] = v
	}
	for _, m := range moves {
		if m.From == m.To {
			continue
		}
		if m.From != BacklogKey && counts[m.From] > 0 {
			counts[m.From]--
		}
		if m.To != BacklogKey {
			counts[m.To]++
		}
	}
	var out []Violation
	for _, c := range columns {
		limit := c.Limit()
		if limit == 0 {
			continue
		}
		if n := counts[c.Key]; n > limit {
			out = append(out, Violation{ColumnKey: c.Key, WIP: limit, Count: n})
		}
	}
	return out
}

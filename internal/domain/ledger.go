package domain

// Ledger is the coverage record of a single repository: the days whose pull
// requests, reviews and comments have been fetched and persisted.
//
// Intervals are kept sorted by start, and no two of them overlap or touch.
// Every mutation restores that form before returning.
type Ledger struct {
	repository string
	intervals  []Interval
	version    int64
}

// NewLedger returns an empty, never-persisted ledger.
func NewLedger(repository string) *Ledger {
	return &Ledger{repository: repository}
}

// RestoreLedger rebuilds a ledger from persisted intervals. The input is
// normalized, so rows written by older versions or by hand still load.
func RestoreLedger(repository string, version int64, intervals []Interval) *Ledger {
	l := &Ledger{repository: repository, version: version}
	for _, iv := range intervals {
		l.Insert(iv)
	}
	return l
}

func (l *Ledger) Repository() string { return l.repository }

// Version is the persisted row version this ledger was loaded at; 0 means
// the repository has never been saved.
func (l *Ledger) Version() int64 { return l.version }

// WithVersion returns a copy of l stamped with version.
func (l *Ledger) WithVersion(version int64) *Ledger {
	c := l.Clone()
	c.version = version
	return c
}

// Intervals returns a copy of the normalized intervals.
func (l *Ledger) Intervals() []Interval {
	out := make([]Interval, len(l.intervals))
	copy(out, l.intervals)
	return out
}

// Len returns the number of disjoint intervals.
func (l *Ledger) Len() int { return len(l.intervals) }

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{repository: l.repository, intervals: l.Intervals(), version: l.version}
}

// Insert adds iv, merging it with every neighbour it overlaps or touches.
// Runs in O(n) over the existing intervals.
func (l *Ledger) Insert(iv Interval) {
	merged := iv
	before := make([]Interval, 0, len(l.intervals)+1)
	var after []Interval
	for _, cur := range l.intervals {
		switch {
		case cur.Mergeable(merged):
			// Mergeable was just checked, so the error is impossible.
			merged, _ = merged.MergeWith(cur)
		case cur.end.Before(merged.start):
			before = append(before, cur)
		default:
			after = append(after, cur)
		}
	}
	l.intervals = append(append(before, merged), after...)
}

// GapsWithin returns, in ascending order, the sub-intervals of requested
// that no ledger interval covers.
func (l *Ledger) GapsWithin(requested Interval) []Interval {
	gaps := []Interval{}
	cursor := requested.start
	for _, cur := range l.intervals {
		if cur.end.Before(requested.start) {
			continue
		}
		if cur.start.After(requested.end) {
			break
		}
		if cur.start.After(cursor) {
			gaps = append(gaps, Interval{start: cursor, end: prevDay(cur.start)})
		}
		if next := nextDay(cur.end); next.After(cursor) {
			cursor = next
		}
	}
	if !cursor.After(requested.end) {
		gaps = append(gaps, Interval{start: cursor, end: requested.end})
	}
	return gaps
}

// IsFullyCovered reports whether requested has no gaps.
func (l *Ledger) IsFullyCovered(requested Interval) bool {
	return len(l.GapsWithin(requested)) == 0
}

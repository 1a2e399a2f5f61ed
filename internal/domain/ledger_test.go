package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_InsertDisjoint(t *testing.T) {
	a := MustInterval("2025-01-01", "2025-01-05")
	b := MustInterval("2025-01-10", "2025-01-12")

	for _, order := range [][]Interval{{a, b}, {b, a}} {
		l := NewLedger("org/repo")
		for _, iv := range order {
			l.Insert(iv)
		}
		assert.Equal(t, []Interval{a, b}, l.Intervals())
	}
}

func TestLedger_InsertMergeable(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     Interval
		expected Interval
	}{
		{
			name:     "overlapping",
			a:        MustInterval("2025-01-01", "2025-01-10"),
			b:        MustInterval("2025-01-05", "2025-01-20"),
			expected: MustInterval("2025-01-01", "2025-01-20"),
		},
		{
			name:     "touching",
			a:        MustInterval("2025-01-01", "2025-01-15"),
			b:        MustInterval("2025-01-16", "2025-01-31"),
			expected: MustInterval("2025-01-01", "2025-01-31"),
		},
		{
			name:     "nested",
			a:        MustInterval("2025-01-01", "2025-01-31"),
			b:        MustInterval("2025-01-10", "2025-01-11"),
			expected: MustInterval("2025-01-01", "2025-01-31"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, order := range [][]Interval{{tc.a, tc.b}, {tc.b, tc.a}} {
				l := NewLedger("org/repo")
				for _, iv := range order {
					l.Insert(iv)
				}
				require.Equal(t, 1, l.Len())
				assert.True(t, tc.expected.Equal(l.Intervals()[0]))
			}
		})
	}
}

func TestLedger_InsertBridgesSeveralNeighbours(t *testing.T) {
	l := RestoreLedger("org/repo", 3, []Interval{
		MustInterval("2025-01-01", "2025-01-03"),
		MustInterval("2025-01-06", "2025-01-08"),
		MustInterval("2025-01-12", "2025-01-14"),
		MustInterval("2025-02-01", "2025-02-02"),
	})
	l.Insert(MustInterval("2025-01-04", "2025-01-11"))

	assert.Equal(t, []Interval{
		MustInterval("2025-01-01", "2025-01-14"),
		MustInterval("2025-02-01", "2025-02-02"),
	}, l.Intervals())
	assert.Equal(t, int64(3), l.Version())
}

func TestRestoreLedger_Normalizes(t *testing.T) {
	l := RestoreLedger("org/repo", 1, []Interval{
		MustInterval("2025-01-20", "2025-01-31"),
		MustInterval("2025-01-01", "2025-01-10"),
		MustInterval("2025-01-11", "2025-01-12"),
	})
	assert.Equal(t, []Interval{
		MustInterval("2025-01-01", "2025-01-12"),
		MustInterval("2025-01-20", "2025-01-31"),
	}, l.Intervals())
}

func TestLedger_GapsWithin(t *testing.T) {
	testCases := []struct {
		name      string
		ledger    []Interval
		requested Interval
		expected  []Interval
	}{
		{
			name:      "empty ledger yields whole request",
			requested: MustInterval("2025-01-01", "2025-01-31"),
			expected:  []Interval{MustInterval("2025-01-01", "2025-01-31")},
		},
		{
			name:      "covered prefix excluded",
			ledger:    []Interval{MustInterval("2025-01-01", "2025-01-10")},
			requested: MustInterval("2025-01-05", "2025-01-20"),
			expected:  []Interval{MustInterval("2025-01-11", "2025-01-20")},
		},
		{
			name: "hole between two covered ranges",
			ledger: []Interval{
				MustInterval("2025-01-01", "2025-01-10"),
				MustInterval("2025-01-20", "2025-01-31"),
			},
			requested: MustInterval("2025-01-01", "2025-01-31"),
			expected:  []Interval{MustInterval("2025-01-11", "2025-01-19")},
		},
		{
			name:      "covered suffix excluded",
			ledger:    []Interval{MustInterval("2025-01-15", "2025-02-15")},
			requested: MustInterval("2025-01-01", "2025-01-31"),
			expected:  []Interval{MustInterval("2025-01-01", "2025-01-14")},
		},
		{
			name:      "fully covered",
			ledger:    []Interval{MustInterval("2024-12-01", "2025-02-01")},
			requested: MustInterval("2025-01-01", "2025-01-31"),
			expected:  []Interval{},
		},
		{
			name: "ledger entirely outside request",
			ledger: []Interval{
				MustInterval("2024-01-01", "2024-01-31"),
				MustInterval("2026-01-01", "2026-01-31"),
			},
			requested: MustInterval("2025-01-01", "2025-01-02"),
			expected:  []Interval{MustInterval("2025-01-01", "2025-01-02")},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := RestoreLedger("org/repo", 1, tc.ledger)
			gaps := l.GapsWithin(tc.requested)
			assert.Equal(t, tc.expected, gaps)
			assert.Equal(t, len(tc.expected) == 0, l.IsFullyCovered(tc.requested))
		})
	}
}

// Every day of the request must be either in exactly one gap or covered by
// the ledger, never both.
func TestLedger_GapsReconstructRequest(t *testing.T) {
	l := RestoreLedger("org/repo", 1, []Interval{
		MustInterval("2025-01-03", "2025-01-04"),
		MustInterval("2025-01-09", "2025-01-09"),
		MustInterval("2025-01-15", "2025-01-22"),
	})
	requested := MustInterval("2025-01-01", "2025-01-31")
	gaps := l.GapsWithin(requested)

	for d := requested.Start(); !d.After(requested.End()); d = d.AddDate(0, 0, 1) {
		inGaps := 0
		for _, g := range gaps {
			if g.Contains(d) {
				inGaps++
			}
		}
		covered := false
		for _, iv := range l.Intervals() {
			if iv.Contains(d) {
				covered = true
			}
		}
		if covered {
			assert.Zero(t, inGaps, "covered day %s reported as gap", d.Format(DateLayout))
		} else {
			assert.Equal(t, 1, inGaps, "uncovered day %s", d.Format(DateLayout))
		}
	}
}

func TestLedger_CloneIsIndependent(t *testing.T) {
	l := NewLedger("org/repo")
	l.Insert(MustInterval("2025-01-01", "2025-01-02"))
	c := l.Clone()
	c.Insert(MustInterval("2025-03-01", "2025-03-02"))

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(7), c.WithVersion(7).Version())
	assert.Equal(t, int64(0), c.Version())
}

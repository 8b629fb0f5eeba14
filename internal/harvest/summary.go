package harvest

import (
	"github.com/ligustah/harvest/pkg/dataset"
)

// Outcome is the result of processing one candidate.
type Outcome struct {
	URL     string
	Label   string
	ImageID string

	// Asset is set when the candidate was committed.
	Asset *dataset.AcceptedAsset

	// Kind, Reason and Err are set when the candidate was rejected.
	Kind   Kind
	Reason string
	Err    error
}

// Accepted reports whether the candidate was committed.
func (o Outcome) Accepted() bool { return o.Asset != nil }

// Summary aggregates the outcomes of a run.
type Summary struct {
	Accepted   map[string]int            // per label
	Partitions map[dataset.Partition]int // accepted per partition
	Rejected   map[Kind]int
	Outcomes   []Outcome
	Skipped    []string // sources abandoned, with the reason
}

func newSummary() *Summary {
	return &Summary{
		Accepted:   make(map[string]int),
		Partitions: make(map[dataset.Partition]int),
		Rejected:   make(map[Kind]int),
	}
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Accepted() {
		s.Accepted[o.Label]++
		s.Partitions[o.Asset.Partition]++
		return
	}
	s.Rejected[o.Kind]++
}

// AcceptedTotal returns the number of committed assets.
func (s *Summary) AcceptedTotal() int {
	n := 0
	for _, v := range s.Accepted {
		n += v
	}
	return n
}

// RejectedTotal returns the number of rejected candidates.
func (s *Summary) RejectedTotal() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

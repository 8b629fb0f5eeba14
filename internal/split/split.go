// Package split assigns accepted assets to dataset partitions.
//
// Two modes are available. Quota mode (Assigner) fills the train partition
// up to floor(total*fraction) per label and sends the rest to unseen, so a
// label that reaches its requested total has an exact split. Bucket mode
// derives the partition from a hash of a stable key and needs no state.
package split

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ligustah/harvest/pkg/dataset"
)

// DefaultTrainFraction is the share of each label placed in train.
const DefaultTrainFraction = 0.8

// Targets holds the per-label partition sizes for a requested total.
type Targets struct {
	Train  int
	Unseen int
}

// TargetsFor returns {floor(total*fraction), total-train}.
func TargetsFor(total int, fraction float64) Targets {
	if total < 0 {
		total = 0
	}
	// epsilon absorbs products like 0.29*100 = 28.999999999999996
	train := int(math.Floor(float64(total)*clamp(fraction) + 1e-9))
	return Targets{Train: train, Unseen: total - train}
}

// Counts is the realised assignment for one label.
type Counts struct {
	Train  int
	Unseen int
}

// Assigner tracks per-label quota counters for one run. Safe for
// concurrent use.
type Assigner struct {
	fraction float64
	twoWay   bool
	fallback dataset.Partition

	mu     sync.Mutex
	counts map[string]*Counts
}

// NewAssigner creates an assigner for the given partition set. When the set
// is not exactly {train, unseen}, every asset goes to the first partition.
func NewAssigner(fraction float64, partitions []dataset.Partition) (*Assigner, error) {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return nil, fmt.Errorf("split: train fraction %v out of range [0,1]", fraction)
	}
	if len(partitions) == 0 {
		partitions = dataset.DefaultPartitions
	}
	return &Assigner{
		fraction: fraction,
		twoWay:   isTrainUnseen(partitions),
		fallback: partitions[0],
		counts:   make(map[string]*Counts),
	}, nil
}

// Assign picks the partition for the next accepted asset of label, given
// the total requested for that label in this run, and counts it.
func (a *Assigner) Assign(label string, requestedTotal int) dataset.Partition {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.counts[label]
	if c == nil {
		c = &Counts{}
		a.counts[label] = c
	}

	if !a.twoWay {
		c.Train++
		return a.fallback
	}

	t := TargetsFor(requestedTotal, a.fraction)
	if c.Train < t.Train {
		c.Train++
		return dataset.PartitionTrain
	}
	c.Unseen++
	return dataset.PartitionUnseen
}

// Release returns a slot taken by Assign whose asset was not committed.
func (a *Assigner) Release(label string, p dataset.Partition) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.counts[label]
	if c == nil {
		return
	}
	if !a.twoWay || p == dataset.PartitionTrain {
		if c.Train > 0 {
			c.Train--
		}
		return
	}
	if c.Unseen > 0 {
		c.Unseen--
	}
}

// Counts returns the assignments made so far for label.
func (a *Assigner) Counts(label string) Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c := a.counts[label]; c != nil {
		return *c
	}
	return Counts{}
}

// Reset clears every counter.
func (a *Assigner) Reset() {
	a.mu.Lock()
	a.counts = make(map[string]*Counts)
	a.mu.Unlock()
}

// Bucket maps key onto train or unseen: the first four bytes of
// SHA-256(key) as a big-endian uint32, modulo 100, below fraction*100 is
// train. The same key always lands in the same partition.
func Bucket(key string, fraction float64) dataset.Partition {
	sum := sha256.Sum256([]byte(key))
	b := binary.BigEndian.Uint32(sum[:4]) % 100
	if float64(b) < clamp(fraction)*100 {
		return dataset.PartitionTrain
	}
	return dataset.PartitionUnseen
}

// BucketFor applies Bucket when partitions is {train, unseen} and returns
// the first partition otherwise.
func BucketFor(key string, fraction float64, partitions []dataset.Partition) dataset.Partition {
	if len(partitions) == 0 {
		partitions = dataset.DefaultPartitions
	}
	if !isTrainUnseen(partitions) {
		return partitions[0]
	}
	return Bucket(key, fraction)
}

func isTrainUnseen(ps []dataset.Partition) bool {
	if len(ps) != 2 {
		return false
	}
	return (ps[0] == dataset.PartitionTrain && ps[1] == dataset.PartitionUnseen) ||
		(ps[0] == dataset.PartitionUnseen && ps[1] == dataset.PartitionTrain)
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

package cora

import (
	"math/rand/v2"
	"sort"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Default split sizes. These are the standard semi-supervised setting for
// Cora (140 labeled training nodes, 500 validation nodes, rest to test) --
// dataset-specific constants, not a general policy, but they can be
// overridden through the train/valid size parameters.
const (
	DefaultTrainSize = 140
	DefaultValidSize = 500
)

// StratifiedSplit partitions the node indices `[0, len(labels))` into three
// disjoint sets:
//
//   - train: min(trainSize, len(labels)) nodes, stratified so the per-class
//     proportions of `labels` are preserved (largest-remainder rounding);
//   - valid: min(validSize, remaining) nodes sampled uniformly from the rest;
//   - test: the remainder.
//
// The returned slices are sorted. Their union is always the full index set.
func StratifiedSplit(labels []int32, trainSize, validSize int, rng *rand.Rand) (train, valid, test []int32) {
	numNodes := len(labels)
	trainSize = min(trainSize, numNodes)

	// Group node indices per class, shuffled within each group.
	perClass := make(map[int32][]int32)
	for ii, label := range labels {
		perClass[label] = append(perClass[label], int32(ii))
	}
	classes := make([]int32, 0, len(perClass))
	for label := range perClass {
		classes = append(classes, label)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	for _, label := range classes {
		group := perClass[label]
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
	}

	// Largest-remainder allocation of the train budget across classes.
	take := make(map[int32]int, len(classes))
	type remainder struct {
		label    int32
		fraction float64
	}
	remainders := make([]remainder, 0, len(classes))
	allocated := 0
	for _, label := range classes {
		exact := float64(trainSize) * float64(len(perClass[label])) / float64(numNodes)
		base := int(exact)
		take[label] = base
		allocated += base
		remainders = append(remainders, remainder{label, exact - float64(base)})
	}
	// Shuffle before the stable sort so classes with equal fractional shares
	// win the leftover slots in random order, not by label.
	rng.Shuffle(len(remainders), func(i, j int) { remainders[i], remainders[j] = remainders[j], remainders[i] })
	sort.SliceStable(remainders, func(i, j int) bool { return remainders[i].fraction > remainders[j].fraction })
	for _, r := range remainders {
		if allocated >= trainSize {
			break
		}
		if take[r.label] < len(perClass[r.label]) {
			take[r.label]++
			allocated++
		}
	}
	// If some classes were too small to absorb their share, spill over.
	for _, label := range classes {
		if allocated >= trainSize {
			break
		}
		for allocated < trainSize && take[label] < len(perClass[label]) {
			take[label]++
			allocated++
		}
	}

	var pool []int32
	for _, label := range classes {
		group := perClass[label]
		n := take[label]
		train = append(train, group[:n]...)
		pool = append(pool, group[n:]...)
	}

	// Validation is a uniform sample of the remainder; test is the rest.
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	validSize = min(validSize, len(pool))
	valid = append(valid, pool[:validSize]...)
	test = append(test, pool[validSize:]...)

	for _, split := range [][]int32{train, valid, test} {
		sort.Slice(split, func(i, j int) bool { return split[i] < split[j] })
	}
	return
}

// MakeSplits derives [TrainSplit], [ValidSplit] and [TestSplit] from the
// loaded labels. It requires [Load] to have been called first.
func MakeSplits(trainSize, validSize int, rng *rand.Rand) error {
	if PapersLabels == nil {
		return errors.New("dataset not loaded yet, call cora.Load() first")
	}
	labels := tensors.CopyFlatData[int32](PapersLabels)
	train, valid, test := StratifiedSplit(labels, trainSize, validSize, rng)
	TrainSplit = tensors.FromValue(train)
	ValidSplit = tensors.FromValue(valid)
	TestSplit = tensors.FromValue(test)
	return nil
}

package cora

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitRng() *rand.Rand {
	return rand.New(rand.NewPCG(42, 42))
}

func TestStratifiedSplit(t *testing.T) {
	// 1000 nodes: 500 of class 0, 300 of class 1, 200 of class 2.
	labels := make([]int32, 1000)
	for ii := range labels {
		switch {
		case ii < 500:
			labels[ii] = 0
		case ii < 800:
			labels[ii] = 1
		default:
			labels[ii] = 2
		}
	}

	train, valid, test := StratifiedSplit(labels, 140, 500, splitRng())
	assert.Len(t, train, 140)
	assert.Len(t, valid, 500)
	assert.Len(t, test, 1000-140-500)

	// The train split preserves the class proportions.
	perClass := make(map[int32]int)
	for _, idx := range train {
		perClass[labels[idx]]++
	}
	assert.Equal(t, 70, perClass[0])
	assert.Equal(t, 42, perClass[1])
	assert.Equal(t, 28, perClass[2])

	// The three splits are disjoint and cover all nodes.
	seen := make(map[int32]bool, len(labels))
	for _, split := range [][]int32{train, valid, test} {
		for _, idx := range split {
			require.False(t, seen[idx], "node %d appears in more than one split", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, len(labels))
}

func TestStratifiedSplitRandomTieBreak(t *testing.T) {
	// 4 classes of 5 nodes each with a train budget of 2: every class ties at
	// the same fractional share, so which classes win the leftover slots must
	// depend on the rng, not on the label order.
	labels := make([]int32, 20)
	for ii := range labels {
		labels[ii] = int32(ii % 4)
	}
	allocations := make(map[string]bool)
	for seed := uint64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed))
		train, _, _ := StratifiedSplit(labels, 2, 0, rng)
		require.Len(t, train, 2)
		perClass := make([]int, 4)
		for _, idx := range train {
			perClass[labels[idx]]++
		}
		allocations[fmt.Sprint(perClass)] = true
	}
	assert.Greater(t, len(allocations), 1, "the same classes won the train slots for all seeds")
}

func TestStratifiedSplitSmallDataset(t *testing.T) {
	// Fewer nodes than the requested sizes: everything lands in train/valid.
	labels := []int32{0, 0, 1, 1, 1}
	train, valid, test := StratifiedSplit(labels, 140, 500, splitRng())
	assert.Len(t, train, 5)
	assert.Empty(t, valid)
	assert.Empty(t, test)

	train, valid, test = StratifiedSplit(labels, 3, 500, splitRng())
	assert.Len(t, train, 3)
	assert.Len(t, valid, 2)
	assert.Empty(t, test)
}

func TestMakeSplits(t *testing.T) {
	resetDatasetState()
	require.ErrorContains(t, MakeSplits(140, 500, splitRng()), "not loaded")

	graphDir, _, _ := writeTestGraph(t)
	require.NoError(t, Load(graphDir, TargetColumn))
	require.NoError(t, MakeSplits(4, 3, splitRng()))

	train := tensors.CopyFlatData[int32](TrainSplit)
	valid := tensors.CopyFlatData[int32](ValidSplit)
	test := tensors.CopyFlatData[int32](TestSplit)
	assert.Len(t, train, 4)
	assert.Len(t, valid, 3)
	assert.Len(t, test, 3)

	// Stratified: the test graph has 5 papers of each subject.
	labels := tensors.CopyFlatData[int32](PapersLabels)
	perClass := make(map[int32]int)
	for _, idx := range train {
		perClass[labels[idx]]++
	}
	assert.Equal(t, 2, perClass[0])
	assert.Equal(t, 2, perClass[1])
}

package sampler

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler(t *testing.T) {
	s := New(10)

	cites := tensors.FromValue([][]int32{
		{0, 2}, // Node 0 cites node 2.
		{3, 2},
		{4, 2},
		{0, 3},
		{0, 4},
		{4, 4},
		{7, 4},
	})
	require.NoError(t, cites.Shape().Check(dtypes.Int32, 7, 2))

	s.AddEdges("cites", cites /*reverse=*/, false)
	fmt.Printf("cites:\n\tStarts: \t%#v\n\tTargets:\t%#v\n",
		s.EdgeSets["cites"].Starts,
		s.EdgeSets["cites"].EdgeTargets)
	assert.EqualValues(t, []int32{3, 3, 3, 4, 6, 6, 6, 7, 7, 7}, s.EdgeSets["cites"].Starts)
	assert.EqualValues(t, []int32{2, 3, 4, 2, 2, 4, 4}, s.EdgeSets["cites"].EdgeTargets)
	assert.EqualValues(t, []int32{2, 4}, s.EdgeSets["cites"].TargetsForSource(4))
	assert.EqualValues(t, []int32{}, s.EdgeSets["cites"].TargetsForSource(9))

	s.AddEdges("citedBy", cites /*reverse=*/, true)
	fmt.Printf("citedBy:\n\tStarts: \t%#v\n\tTargets:\t%#v\n",
		s.EdgeSets["citedBy"].Starts,
		s.EdgeSets["citedBy"].EdgeTargets)
	assert.EqualValues(t, []int32{0, 0, 3, 4, 7, 7, 7, 7, 7, 7}, s.EdgeSets["citedBy"].Starts)
	assert.EqualValues(t, []int32{0, 3, 4, 0, 0, 4, 7}, s.EdgeSets["citedBy"].EdgeTargets)
	assert.EqualValues(t, []int32{0, 4, 7}, s.EdgeSets["citedBy"].TargetsForSource(4))
	assert.EqualValues(t, []int32{}, s.EdgeSets["citedBy"].TargetsForSource(0))
}

func TestSamplerKeepsEdgeOrder(t *testing.T) {
	// Edges of the same source must keep their input order after the CSR
	// build, also for edge lists large enough to engage the generic sort.
	s := New(14)
	edges := tensors.FromValue([][]int32{
		{0, 7}, {5, 1}, {0, 3}, {0, 9}, {5, 2}, {0, 1}, {0, 12}, {0, 4},
		{5, 0}, {0, 11}, {0, 2}, {0, 8}, {0, 6}, {0, 10}, {0, 13}, {0, 5},
	})
	s.AddEdges("cites", edges /*reverse=*/, false)
	assert.EqualValues(t, []int32{7, 3, 9, 1, 12, 4, 11, 2, 8, 6, 10, 13, 5},
		s.EdgeSets["cites"].TargetsForSource(0))
	assert.EqualValues(t, []int32{1, 2, 0}, s.EdgeSets["cites"].TargetsForSource(5))
}

func TestSamplerInvalidInputs(t *testing.T) {
	s := New(5)
	require.Panics(t, func() {
		// Wrong shape: must be [N, 2].
		s.AddEdges("bad", tensors.FromValue([][]int32{{0, 1, 2}}), false)
	})
	require.Panics(t, func() {
		// Target node out of range.
		s.AddEdges("bad", tensors.FromValue([][]int32{{0, 17}}), false)
	})
	s.AddEdges("edges", tensors.FromValue([][]int32{{0, 1}}), false)
	require.Panics(t, func() {
		// Duplicate edge set name.
		s.AddEdges("edges", tensors.FromValue([][]int32{{1, 2}}), false)
	})
	_ = s.NewStrategy()
	require.Panics(t, func() {
		// Frozen after NewStrategy.
		s.AddEdges("more", tensors.FromValue([][]int32{{1, 2}}), false)
	})
}

func TestSamplerSaveAndLoad(t *testing.T) {
	s := New(10)
	cites := tensors.FromValue([][]int32{{0, 2}, {3, 2}, {4, 2}, {0, 3}})
	s.AddEdges("cites", cites, false)

	filePath := filepath.Join(t.TempDir(), "sampler.bin")
	require.NoError(t, s.Save(filePath))

	loaded, err := Load(filePath)
	require.NoError(t, err)
	assert.EqualValues(t, s.NumNodes, loaded.NumNodes)
	require.Contains(t, loaded.EdgeSets, "cites")
	assert.EqualValues(t, s.EdgeSets["cites"].Starts, loaded.EdgeSets["cites"].Starts)
	assert.EqualValues(t, s.EdgeSets["cites"].EdgeTargets, loaded.EdgeSets["cites"].EdgeTargets)
}

package sage

import (
	"math"
	"testing"

	"github.com/gomlx/cora/sampler"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestParseHyperparameters(t *testing.T) {
	ctx := context.New()
	assert.Equal(t, []int{20, 20}, LayerSizes(ctx))
	assert.Equal(t, []int{20, 10}, NumSamples(ctx))

	ctx.SetParam(ParamLayerSizes, "32, 16,8")
	assert.Equal(t, []int{32, 16, 8}, LayerSizes(ctx))

	ctx.SetParam(ParamLayerSizes, "32,-1")
	require.Panics(t, func() { LayerSizes(ctx) })
	ctx.SetParam(ParamLayerSizes, "32,x")
	require.Panics(t, func() { LayerSizes(ctx) })
}

// testStrategy returns a frozen chain strategy seeds -> hop_1, batch size 2,
// fan-out 2, over a 4 nodes graph.
func testStrategy(t *testing.T) *sampler.Strategy {
	s := sampler.New(4)
	s.AddEdges("links", tensors.FromValue([][]int32{{0, 1}, {0, 2}}), false)
	strategy := s.NewStrategy()
	seeds := strategy.NodesFromSet("seeds", 2, []int32{0, 3})
	seeds.FromEdges("hop_1", "links", 2)
	_ = strategy.NewDataset("freeze")
	return strategy
}

func TestNodePrediction(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	strategy := testStrategy(t)

	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParam(ParamLayerSizes, "4")

	exec := context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) *Node {
		states, remaining := sampler.MapInputsToStates[*Node](strategy, inputs)
		require.Empty(t, remaining)
		return NodePrediction(ctx.Checked(false), strategy, states)
	})

	// Seed 3 has no neighbors: its hop row is fully masked out.
	seedStates := tensors.FromValue([][]float32{{1, 0, 1}, {0, 1, 0}})
	seedMask := tensors.FromValue([]bool{true, true})
	hopStates := tensors.FromValue([][][]float32{
		{{0, 1, 0}, {1, 1, 0}},
		{{0, 0, 0}, {0, 0, 0}},
	})
	hopMask := tensors.FromValue([][]bool{{true, true}, {false, false}})

	outputs := exec.Call(seedStates, seedMask, hopStates, hopMask)
	embeddings := outputs[0]
	require.NoError(t, embeddings.Shape().Check(seedStates.DType(), 2, 4))

	flat := tensors.CopyFlatData[float32](embeddings)
	for _, v := range flat {
		require.False(t, math.IsNaN(float64(v)), "embeddings contain NaN: %v", flat)
	}

	// The default configuration L2-normalizes the embeddings.
	for row := range 2 {
		var norm float64
		for _, v := range flat[row*4 : (row+1)*4] {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
	}
}

func TestNodePredictionValidatesStrategy(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	strategy := testStrategy(t)

	// Two layer sizes but a single sampling hop.
	ctx := context.New()
	ctx.SetParam(ParamLayerSizes, "4,4")
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) *Node {
		states, _ := sampler.MapInputsToStates[*Node](strategy, inputs)
		return NodePrediction(ctx.Checked(false), strategy, states)
	})
	require.Panics(t, func() {
		exec.Call(
			tensors.FromValue([][]float32{{1}, {0}}),
			tensors.FromValue([]bool{true, true}),
			tensors.FromValue([][][]float32{{{0}, {1}}, {{0}, {0}}}),
			tensors.FromValue([][]bool{{true, true}, {false, false}}))
	})
}

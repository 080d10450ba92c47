// Package sage implements GraphSAGE graph convolutions over sampled
// fixed-shape neighborhoods, based on the paper
// ["Inductive Representation Learning on Large Graphs"](https://arxiv.org/abs/1706.02216)
// (Hamilton et al.).
//
// It works on sub-graphs sampled with a chain [sampler.Strategy]: one seed
// rule followed by one edge rule per hop. Each layer aggregates the sampled
// neighbor states into their source nodes and applies a dense kernel shared
// across all depths of the sampling tree, so after K layers the seed states
// have seen their K-hop neighborhoods.
package sage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/cora/sampler"
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

var (
	// ParamLayerSizes is the context hyperparameter with the output dimension
	// of each GraphSAGE layer, as a comma-separated list. The number of layers
	// must match the number of sampling hops of the strategy.
	// The default is "20,20".
	ParamLayerSizes = "sage_layer_sizes"

	// ParamNumSamples is the context hyperparameter with the number of
	// neighbors sampled per hop, as a comma-separated list. It defines the
	// sampling strategy's chain, and its length must match [ParamLayerSizes].
	// The default is "20,10".
	ParamNumSamples = "sage_num_samples"

	// ParamAggregator is the context hyperparameter that selects how sampled
	// neighbor states are aggregated into their source node. It can take the
	// values `mean`, `sum` or `max`. The default is `mean`.
	ParamAggregator = "sage_aggregator"

	// ParamNormalize is the context hyperparameter that if set (default)
	// L2-normalizes the final seed embeddings.
	ParamNormalize = "sage_normalize"
)

// LayerSizes parses [ParamLayerSizes] from the context.
func LayerSizes(ctx *context.Context) []int {
	return parseIntList(context.GetParamOr(ctx, ParamLayerSizes, "20,20"), ParamLayerSizes)
}

// NumSamples parses [ParamNumSamples] from the context.
func NumSamples(ctx *context.Context) []int {
	return parseIntList(context.GetParamOr(ctx, ParamNumSamples, "20,10"), ParamNumSamples)
}

func parseIntList(listStr, paramName string) []int {
	parts := strings.Split(listStr, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v <= 0 {
			Panicf("invalid value %q for comma-separated list of positive ints %q", listStr, paramName)
		}
		values = append(values, v)
	}
	return values
}

// NodePrediction runs the GraphSAGE layers over the states of a sampled
// sub-graph and returns the final embeddings of the seed nodes, shaped
// `[batch_size, last_layer_size]`.
//
// `graphStates` maps rule names to their states and masks, as built by
// [sampler.MapInputsToStates] -- the states are consumed, only the returned
// seed embeddings should be used afterward.
//
// The strategy must be a chain: a single seed rule, each rule with at most
// one dependent, and as many hops as there are layer sizes configured in the
// context (see [ParamLayerSizes]).
func NodePrediction(ctx *context.Context, strategy *sampler.Strategy,
	graphStates map[string]*sampler.ValueMask[*Node]) *Node {
	chain := chainRules(strategy)
	layerSizes := LayerSizes(ctx)
	numHops := len(chain) - 1
	if len(layerSizes) != numHops {
		Panicf("%d layer sizes configured (%q=%q) but the sampling strategy has %d hops, they must match",
			len(layerSizes), ParamLayerSizes, context.GetParamOr(ctx, ParamLayerSizes, "20,20"), numHops)
	}

	states := make([]*sampler.ValueMask[*Node], 0, len(chain))
	for _, rule := range chain {
		state, found := graphStates[rule.Name]
		if !found {
			Panicf("state for sampling rule %q not given in graphStates", rule.Name)
		}
		states = append(states, state)
	}

	for layerIdx, layerSize := range layerSizes {
		// The kernel of each layer is shared across all depths.
		layerCtx := ctx.In(fmt.Sprintf("layer_%d", layerIdx)).Checked(false)
		// After layer k only the states up to depth numHops-k carry signal
		// that can still reach the seeds.
		for depth := range numHops - layerIdx {
			self, neighbors := states[depth], states[depth+1]
			pooled := aggregateNeighbors(layerCtx, neighbors.Value, neighbors.Mask)
			state := layers.DenseWithBias(layerCtx, Concatenate([]*Node{self.Value, pooled}, -1), layerSize)
			state = activations.ApplyFromContext(layerCtx, state)
			state = layers.DropoutFromContext(layerCtx, state)
			states[depth] = &sampler.ValueMask[*Node]{Value: state, Mask: self.Mask}
		}
	}

	seedState := states[0].Value
	if context.GetParamOr(ctx, ParamNormalize, true) {
		seedState = l2Normalize(seedState)
	}
	return seedState
}

// chainRules returns the strategy's rules as a chain, from the seed rule to
// the deepest hop. It panics if the strategy is not a chain.
func chainRules(strategy *sampler.Strategy) []*sampler.Rule {
	if len(strategy.Seeds) != 1 {
		Panicf("GraphSAGE needs a chain sampling strategy with exactly 1 seed rule, strategy has %d", len(strategy.Seeds))
	}
	chain := []*sampler.Rule{strategy.Seeds[0]}
	for {
		rule := chain[len(chain)-1]
		if len(rule.Dependents) == 0 {
			return chain
		}
		if len(rule.Dependents) > 1 {
			Panicf("GraphSAGE needs a chain sampling strategy, but rule %q has %d dependents", rule.Name, len(rule.Dependents))
		}
		chain = append(chain, rule.Dependents[0])
	}
}

// aggregateNeighbors pools the sampled neighbor states into their source
// nodes, reducing the sampling axis according to [ParamAggregator].
// `value` is shaped `[..., count, state_dim]` and `mask` is `[..., count]`;
// the result is shaped `[..., state_dim]`, with 0 where every neighbor is
// masked out.
func aggregateNeighbors(ctx *context.Context, value, mask *Node) *Node {
	aggregator := context.GetParamOr(ctx, ParamAggregator, "mean")
	reduceAxis := value.Rank() - 2
	var pooled *Node
	switch aggregator {
	case "mean":
		pooled = MaskedReduceMean(value, mask, reduceAxis)
	case "sum":
		pooled = MaskedReduceSum(value, mask, reduceAxis)
	case "max":
		pooled = MaskedReduceMax(value, mask, reduceAxis)
		// Makes it 0 where every neighbor is masked out.
		pooledMask := ReduceLogicalOr(mask, -1)
		pooled = Where(pooledMask, pooled, ZerosLike(pooled))
	default:
		Panicf("unknown aggregator %q given in context parameter %q -- valid values are mean, sum and max",
			aggregator, ParamAggregator)
	}
	return pooled
}

// l2Normalize scales the last axis to unit L2 norm.
func l2Normalize(x *Node) *Node {
	norm := Sqrt(ReduceAndKeep(Square(x), ReduceSum, -1))
	return Div(x, MaxScalar(norm, 1e-12))
}

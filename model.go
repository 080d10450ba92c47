package cora

import (
	"github.com/gomlx/cora/sage"
	"github.com/gomlx/cora/sampler"
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gopjrt/dtypes"
)

// ParamDType is the context hyperparameter with the dtype used by the model.
// The default is "float32".
var ParamDType = "cora_dtype"

func getDType(ctx *context.Context) dtypes.DType {
	dtypeStr := context.GetParamOr(ctx, ParamDType, "float32")
	dtype, err := dtypes.DTypeString(dtypeStr)
	if err != nil {
		Panicf("invalid value %s=%q: %v", ParamDType, dtypeStr, err)
	}
	return dtype
}

// getCoraVar retrieves the static (not learnable) Cora variables -- e.g. the
// frozen word-presence features table.
func getCoraVar(ctx *context.Context, g *Graph, name string) *Node {
	coraVar := ctx.GetVariableByScopeAndName(CoraVariablesScope, name)
	if coraVar == nil {
		Panicf("missing Cora dataset variable (%q), please call UploadCoraVariables() on the context first", name)
		panic(nil) // Quiet linter.
	}
	return coraVar.ValueGraph(g)
}

// ModelGraph builds the GraphSAGE classification model over a sampled
// sub-graph of the citation network.
//
// It returns 2 tensors:
//   - Logits for all seed papers, shaped `Float32[batch_size, NumClasses()]`.
//   - Mask of the seeds, provided by the sampler, shaped `Bool[batch_size]`.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.WithInitializer(initializers.GlorotUniformFn(ctx))
	g := inputs[0].Graph()
	cosineschedule.New(ctx, g, getDType(ctx)).FromContext().Done()

	// Scope checking is disabled because the GraphSAGE kernels are
	// deliberately reused across depths.
	ctxModel := ctx.In("model").Checked(false)

	strategy := spec.(*sampler.Strategy)
	graphStates, _ := FeaturePreprocessing(ctxModel, strategy, inputs)
	readout := sage.NodePrediction(ctxModel, strategy, graphStates)

	// Last layer outputs the logits for the NumClasses() subjects.
	logits := layers.DenseWithBias(ctxModel.In("logits"), readout, NumClasses())
	seedsMask := graphStates[strategy.Seeds[0].Name].Mask
	return []*Node{logits, seedsMask}
}

// FeaturePreprocessing converts the `spec` and `inputs` yielded by a sampling
// dataset into the initial hidden states of each rule: the word-presence
// feature vectors of the sampled papers, gathered from the frozen features
// table (see [UploadCoraVariables]).
func FeaturePreprocessing(ctx *context.Context, strategy *sampler.Strategy, inputs []*Node) (
	graphStates map[string]*sampler.ValueMask[*Node], remainingInputs []*Node) {
	g := inputs[0].Graph()
	graphStates, remainingInputs = sampler.MapInputsToStates[*Node](strategy, inputs)
	dtype := getDType(ctx)

	papersFeatures := getCoraVar(ctx, g, "PapersFeatures")
	for _, state := range graphStates {
		// Gather the features of the sampled papers. Padded entries gather
		// paper 0's features, the mask takes care of them downstream.
		state.Value = Gather(papersFeatures, InsertAxes(state.Value, -1))
		if state.Value.DType() != dtype {
			state.Value = ConvertDType(state.Value, dtype)
		}
	}
	return
}

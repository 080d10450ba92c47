// Package cora implements node classification on the Cora citation graph
// using a GraphSAGE model built with GoMLX.
//
// The Cora dataset consists of 2708 scientific publications classified into
// one of seven classes. The citation network consists of 5429 links. Each
// publication is described by a 0/1-valued word vector indicating the
// absence/presence of the corresponding word from a dictionary of 1433 words.
//
// The package downloads (or reads from a local directory) the two dataset
// files -- `cora.cites` (edge list) and `cora.content` (per-node features and
// label) -- builds the graph tensors, and provides the sampling strategies,
// model graph and training/evaluation entry points. See `demo/` for the
// command-line driver.
//
// The neighborhood sampling lives in the `sampler` sub-package, and the
// GraphSAGE aggregation layers in the `sage` sub-package.
package cora

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
)

const (
	// NumFeatures is the number of word-presence features per paper ("w_0" to "w_1432").
	NumFeatures = 1433

	// CitesFile and ContentFile are the two files expected under the dataset directory.
	// Both are tab-separated and have no header row.
	CitesFile   = "cora.cites"
	ContentFile = "cora.content"

	// TargetColumn is the default name of the categorical target attribute.
	TargetColumn = "subject"
)

// Package-level dataset tensors, set by [Load] (or [Download] + [Load]).
var (
	// NumPapers is the number of nodes loaded -- 2708 for the standard Cora dataset.
	NumPapers int

	// PaperIDs are the original (sparse) paper ids, indexed by the dense node
	// index used everywhere else in this package.
	PaperIDs []int64

	// EdgesCites are the citation edges, shaped (Int32)[NumEdges, 2], using
	// dense node indices: column 0 cites column 1.
	EdgesCites *tensors.Tensor

	// PapersFeatures are the word-presence feature vectors, shaped
	// (Float32)[NumPapers, NumFeatures].
	PapersFeatures *tensors.Tensor

	// PapersLabels are the class of each paper, shaped (Int32)[NumPapers, 1].
	PapersLabels *tensors.Tensor

	// Encoder is the label encoder fitted on the target column during [Load].
	Encoder *LabelEncoder

	// TrainSplit, ValidSplit, TestSplit are disjoint sets of node indices,
	// shaped (Int32)[n]. They partition the full node set.
	TrainSplit, ValidSplit, TestSplit *tensors.Tensor
)

// NumClasses returns the number of distinct labels seen by the fitted encoder.
// It panics if the dataset hasn't been loaded yet.
func NumClasses() int {
	if Encoder == nil {
		exceptions.Panicf("cora: dataset not loaded yet, call cora.Load() first")
	}
	return Encoder.NumClasses()
}

// CoraVariablesScope is the absolute context scope where the frozen dataset
// variables are stored.
const CoraVariablesScope = "/cora"

// CoraVariables maps variable names to a reference to their values. We keep
// references because the values are only set during [Load].
var CoraVariables = map[string]**tensors.Tensor{
	"PapersFeatures": &PapersFeatures,
	"PapersLabels":   &PapersLabels,
	"EdgesCites":     &EdgesCites,
}

// UploadCoraVariables creates frozen (non-trainable) variables with the Cora
// dataset tensors, so they can be used by model graphs.
//
// They are stored under the [CoraVariablesScope] scope.
func UploadCoraVariables(ctx *context.Context) *context.Context {
	ctxCora := ctx.InAbsPath(CoraVariablesScope)
	for name, tPtr := range CoraVariables {
		if *tPtr == nil {
			exceptions.Panicf("cora: trying to upload Cora variables to context before calling Load()")
		}
		v := ctxCora.VariableWithValue(name, *tPtr)
		v.Trainable = false
	}
	return ctx
}

package cora

import (
	"fmt"
	"os"
	"path"

	"github.com/gomlx/cora/sampler"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

var (
	// BatchSize is the number of seed papers sampled per step.
	BatchSize = 20

	// WithReplacement indicates whether the training dataset samples seeds
	// with replacement.
	WithReplacement = false

	// LinksEdgeSet is the name of the symmetrized citation edge set registered
	// in the sampler: the citation graph is treated as undirected.
	LinksEdgeSet = "links"

	// SamplerFile is the name of the cached sampler, stored next to the
	// dataset files.
	SamplerFile = "sampler.bin"
)

// symmetrizeEdges returns the `[E, 2]` edge pairs concatenated with their
// reversals, shaped `[2*E, 2]` -- each citation becomes two directed edges.
func symmetrizeEdges(edges *tensors.Tensor) *tensors.Tensor {
	numEdges := edges.Shape().Dimensions[0]
	symmetric := tensors.FromShape(shapes.Make(dtypes.Int32, 2*numEdges, 2))
	tensors.ConstFlatData[int32](edges, func(edgesData []int32) {
		tensors.MutableFlatData[int32](symmetric, func(symData []int32) {
			copy(symData, edgesData)
			for row := range numEdges {
				symData[2*(numEdges+row)] = edgesData[2*row+1]
				symData[2*(numEdges+row)+1] = edgesData[2*row]
			}
		})
	})
	return symmetric
}

// NewGraphSampler creates a [sampler.Sampler] configured with the undirected
// citation graph. It requires [Load] to have been called first.
//
// Usually one will want [NewSamplerStrategy] instead, which defines the whole
// GraphSAGE sampling chain. Call this directly to craft a custom strategy.
//
// `baseDir` is used to cache the built sampler (as [SamplerFile]) for faster
// startup. If empty, the sampler is always rebuilt.
func NewGraphSampler(baseDir string) (*sampler.Sampler, error) {
	var samplerPath string
	if baseDir != "" {
		baseDir = mldata.ReplaceTildeInDir(baseDir)
		samplerPath = path.Join(baseDir, DownloadSubdir, SamplerFile)
		s, err := sampler.Load(samplerPath)
		if err == nil {
			return s, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	s := sampler.New(NumPapers)
	s.AddEdges(LinksEdgeSet, symmetrizeEdges(EdgesCites) /*reverse=*/, false)
	if samplerPath != "" {
		if err := s.Save(samplerPath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewSamplerStrategy creates the GraphSAGE sampling strategy: a chain of
// `seeds -> hop_1 -> hop_2 -> ...`, with one hop per entry of `numSamples`,
// each hop sampling that many neighbors per node.
//
// Args:
//   - `graphSampler` should have been created with [NewGraphSampler].
//   - `batchSize` is the number of seed papers to sample per step.
//   - `seedIdsCandidates` is the set of papers to seed from, typically
//     [TrainSplit], [ValidSplit] or [TestSplit]. If nil, it seeds from all
//     papers -- used to compute predictions for the whole graph.
func NewSamplerStrategy(graphSampler *sampler.Sampler, batchSize int,
	seedIdsCandidates *tensors.Tensor, numSamples []int) (strategy *sampler.Strategy) {
	strategy = graphSampler.NewStrategy()
	var rule *sampler.Rule
	if seedIdsCandidates == nil {
		rule = strategy.Nodes("seeds", batchSize)
	} else {
		rule = strategy.NodesFromSet("seeds", batchSize, tensors.CopyFlatData[int32](seedIdsCandidates))
	}
	for hop, count := range numSamples {
		rule = rule.FromEdges(fmt.Sprintf("hop_%d", hop+1), LinksEdgeSet, count)
	}
	return strategy
}

// ExtractLabelsFromInput creates the labels from the sampled seed indices.
// It returns the same inputs and the extracted labels (with the seeds' mask).
func ExtractLabelsFromInput(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor) {
	seeds := inputs[0]
	seedsMask := inputs[1]
	seedsLabels := tensors.FromShape(shapes.Make(seeds.DType(), seeds.Shape().Size(), 1))
	tensors.ConstFlatData[int32](seeds, func(seedsData []int32) {
		tensors.ConstFlatData[int32](PapersLabels, func(papersLabelsData []int32) {
			tensors.MutableFlatData[int32](seedsLabels, func(labelsData []int32) {
				for ii, paperIdx := range seedsData {
					labelsData[ii] = papersLabelsData[paperIdx]
				}
			})
		})
	})
	return inputs, []*tensors.Tensor{seedsLabels, seedsMask}
}

// wrapDataset gathers the labels host-side and parallelizes the sampling.
func wrapDataset(ds train.Dataset) train.Dataset {
	ds = mldata.Map(ds, ExtractLabelsFromInput)
	ds = mldata.Parallel(ds)
	return ds
}

// MakeDatasets returns the 4 datasets used by training: "train" (infinite,
// shuffled), and the single-epoch "trainEval", "validEval" and "testEval".
//
// It requires [Load] and [MakeSplits] to have been called first.
func MakeDatasets(dataDir string, batchSize int, numSamples []int) (
	trainDS, trainEvalDS, validEvalDS, testEvalDS train.Dataset, err error) {
	graphSampler, err := NewGraphSampler(dataDir)
	if err != nil {
		return
	}
	trainStrategy := NewSamplerStrategy(graphSampler, batchSize, TrainSplit, numSamples)
	validStrategy := NewSamplerStrategy(graphSampler, batchSize, ValidSplit, numSamples)
	testStrategy := NewSamplerStrategy(graphSampler, batchSize, TestSplit, numSamples)

	if WithReplacement {
		trainDS = trainStrategy.NewDataset("train").WithReplacement()
	} else {
		trainDS = trainStrategy.NewDataset("train").Infinite().Shuffle()
	}
	trainEvalDS = trainStrategy.NewDataset("train").Epochs(1)
	validEvalDS = validStrategy.NewDataset("valid").Epochs(1)
	testEvalDS = testStrategy.NewDataset("test").Epochs(1)

	trainDS = wrapDataset(trainDS)
	trainEvalDS = wrapDataset(trainEvalDS)
	validEvalDS = wrapDataset(validEvalDS)
	testEvalDS = wrapDataset(testEvalDS)
	return
}

// MakeAllPapersDataset returns a single-epoch dataset seeding over every
// paper of the graph, in order -- used to compute predictions for all nodes.
// It also returns the strategy, needed to build the model graph over the
// sampled inputs.
func MakeAllPapersDataset(dataDir string, batchSize int, numSamples []int) (train.Dataset, *sampler.Strategy, error) {
	graphSampler, err := NewGraphSampler(dataDir)
	if err != nil {
		return nil, nil, err
	}
	allStrategy := NewSamplerStrategy(graphSampler, batchSize, nil, numSamples)
	return wrapDataset(allStrategy.NewDataset("all").Epochs(1)), allStrategy, nil
}

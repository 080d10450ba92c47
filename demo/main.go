// demo trains and evaluates a GraphSAGE node classification model on the
// Cora citation dataset: it downloads the data if needed, splits the papers
// into train/validation/test, trains the model and reports the accuracy of
// the subject predictions.
//
// Common hyperparameters have their own flags (--epochs, --dropout,
// --learning_rate, --samples, --layer_sizes); everything else is a context
// parameter, settable with --set, e.g.:
//
//	go run ./demo --set="sage_aggregator=max;cora_dtype=float64"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"path"
	"time"

	"github.com/gomlx/cora"
	"github.com/gomlx/cora/sage"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagEval             = flag.Bool("eval", false, "Set to true to run evaluation instead of training.")
	flagSkipPredictions  = flag.Bool("skip_predictions", false, "Set to true to skip the predictions over all papers after training.")
	flagDataDir          = flag.String("data", "~/work/cora", "Directory to cache downloaded and generated dataset files.")
	flagCheckpointSubdir = flag.String("checkpoint", "", "Checkpoint subdirectory under the --data directory. If empty, a directory named after the hyperparameters is used.")
	flagBatchSize        = flag.Int("batch_size", 20, "Number of seed papers per sampled batch.")
	flagTarget           = flag.String("target", cora.TargetColumn, "Name of the categorical column to predict.")
	flagTrainSize        = flag.Int("train_size", cora.DefaultTrainSize, "Number of labeled papers in the training split.")
	flagValidSize        = flag.Int("valid_size", cora.DefaultValidSize, "Number of papers in the validation split.")
	flagSeed             = flag.Uint64("seed", 42, "Random seed for the train/validation/test split.")

	// Convenience flags for the most common hyperparameters. They map to
	// context parameters, so --set still overrides them.
	flagEpochs       = flag.Int("epochs", 10, "Number of passes over the training split.")
	flagDropout      = flag.Float64("dropout", 0.0, "Dropout rate applied after each graph convolution.")
	flagLearningRate = flag.Float64("learning_rate", 0.005, "Initial learning rate.")
	flagNumSamples   = flag.String("samples", "20,10", "Comma-separated number of neighbors to sample per hop.")
	flagLayerSizes   = flag.String("layer_sizes", "20,20", "Comma-separated hidden layer sizes, one per hop.")
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		cora.ParamCheckpointPath: "",
		cora.ParamNumCheckpoints: 5,
		cora.ParamEpochs:         10,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.005,

		layers.ParamDropoutRate:     0.0,
		activations.ParamActivation: "relu",

		sage.ParamNumSamples: "20,10",
		sage.ParamLayerSizes: "20,20",
		sage.ParamAggregator: "mean",
		sage.ParamNormalize:  true,
		cora.ParamDType:      "float32",
	})
	return ctx
}

func main() {
	backend := must.M1(backends.New())
	ctx := createDefaultContext()

	// Flags with context settings.
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	ctx.SetParams(map[string]any{
		cora.ParamEpochs:             *flagEpochs,
		layers.ParamDropoutRate:      *flagDropout,
		optimizers.ParamLearningRate: *flagLearningRate,
		sage.ParamNumSamples:         *flagNumSamples,
		sage.ParamLayerSizes:         *flagLayerSizes,
	})
	_ = must.M1(commandline.ParseContextSettings(ctx, *settings))

	// Set checkpoint accordingly.
	*flagDataDir = mldata.ReplaceTildeInDir(*flagDataDir)
	checkpointPath := mldata.ReplaceTildeInDir(*flagCheckpointSubdir)
	if checkpointPath != "" {
		if !path.IsAbs(checkpointPath) {
			checkpointPath = path.Join(*flagDataDir, checkpointPath)
		}
		ctx.SetParam(cora.ParamCheckpointPath, checkpointPath)
	}

	// Load the Cora dataset and build the splits.
	fmt.Printf("Loading Cora dataset ... ")
	start := time.Now()
	graphDir := must.M1(cora.Download(*flagDataDir))
	must.M(cora.Load(graphDir, *flagTarget))
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed))
	must.M(cora.MakeSplits(*flagTrainSize, *flagValidSize, rng))
	fmt.Printf("elapsed: %s\n", time.Since(start))
	fmt.Printf("\t%d papers, %d citations, %d subjects\n",
		cora.NumPapers, cora.EdgesCites.Shape().Dimensions[0], cora.NumClasses())

	cora.BatchSize = *flagBatchSize

	var err error
	if *flagEval {
		err = cora.Eval(backend, ctx, *flagDataDir)
	} else {
		err = cora.Train(backend, ctx, *flagDataDir)
		if err == nil && !*flagSkipPredictions {
			_, err = cora.PredictAllPapers(backend, ctx, *flagDataDir)
		}
	}
	if err != nil {
		fmt.Printf("%+v\n", err)
	}
}

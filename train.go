package cora

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/gomlx/cora/sage"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ParamCheckpointPath is the context parameter with the checkpoint
	// directory. If empty, a directory named after the hyperparameters (see
	// [ArtifactSuffix]) is used under the data directory.
	ParamCheckpointPath = "checkpoint"

	// ParamNumCheckpoints is the number of past checkpoints to keep.
	// The default is 5.
	ParamNumCheckpoints = "num_checkpoints"

	// ParamEpochs is the number of training epochs over the train split.
	// The default is 10.
	ParamEpochs = "epochs"
)

// hyperparametersSuffix builds the artifact suffix from the hyperparameters
// currently set in the context.
func hyperparametersSuffix(ctx *context.Context) string {
	return ArtifactSuffix(
		sage.NumSamples(ctx), sage.LayerSizes(ctx),
		context.GetParamOr(ctx, layers.ParamDropoutRate, 0.0),
		context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.005))
}

// checkpointDir resolves the checkpoint directory from the context, deriving
// a hyperparameter-encoded default under `baseDir` if none is configured.
func checkpointDir(ctx *context.Context, baseDir string) string {
	checkpointPath := context.GetParamOr(ctx, ParamCheckpointPath, "")
	if checkpointPath == "" {
		checkpointPath = ModelDirName(hyperparametersSuffix(ctx))
	}
	checkpointPath = mldata.ReplaceTildeInDir(checkpointPath)
	if !path.IsAbs(checkpointPath) {
		checkpointPath = path.Join(baseDir, checkpointPath)
	}
	return checkpointPath
}

// Train the GraphSAGE model based on the configuration in `ctx`, saving
// checkpoints and the fitted label encoder under `baseDir`. It requires
// [Load] and [MakeSplits] to have been called first.
func Train(backend backends.Backend, ctx *context.Context, baseDir string) error {
	baseDir = mldata.ReplaceTildeInDir(baseDir)
	numSamples := sage.NumSamples(ctx)
	trainDS, trainEvalDS, validEvalDS, testEvalDS, err := MakeDatasets(baseDir, BatchSize, numSamples)
	if err != nil {
		return err
	}
	UploadCoraVariables(ctx)

	// Context values (parameters and variables) are reloaded from the
	// checkpoint: anything we don't want overwritten must be read before the
	// checkpointing is set up.
	epochs := context.GetParamOr(ctx, ParamEpochs, 10)
	stepsPerEpoch := (TrainSplit.Shape().Size() + BatchSize - 1) / BatchSize
	trainSteps := epochs * stepsPerEpoch
	suffix := hyperparametersSuffix(ctx)

	// Checkpoint: it loads if one already exists, and saves as we train.
	// The frozen dataset variables are excluded from saving, the features
	// table takes most of the space.
	checkpointPath := checkpointDir(ctx, baseDir)
	numCheckpointsToKeep := context.GetParamOr(ctx, ParamNumCheckpoints, 5)
	var varsToExclude []*context.Variable
	ctx.InAbsPath(CoraVariablesScope).EnumerateVariablesInScope(func(v *context.Variable) {
		varsToExclude = append(varsToExclude, v)
	})
	checkpoint, err := checkpoints.Build(ctx).
		Dir(checkpointPath).Keep(numCheckpointsToKeep).Done()
	if err != nil {
		return errors.WithMessagef(err, "while setting up checkpoint to %q (keep=%d)",
			checkpointPath, numCheckpointsToKeep)
	}
	checkpoint.ExcludeVarsFromSaving(varsToExclude...)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep != 0 {
		fmt.Printf("> restarting training from global_step=%d (training until %d)\n", globalStep, trainSteps)
	}
	if trainSteps <= globalStep {
		fmt.Printf("> training already reached train_steps=%d (%d epochs), use Eval to get a reading on current performance\n",
			trainSteps, epochs)
		return nil
	}
	trainSteps -= globalStep

	// Create the trainer and loop.
	trainer := newTrainer(backend, ctx)
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	// Checkpoint every minute of training.
	train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100,
		func(loop *train.Loop, metrics []*tensors.Tensor) error {
			return checkpoint.Save()
		})

	if _, err = loop.RunSteps(trainDS, trainSteps); err != nil {
		return errors.WithMessage(err, "while running training steps")
	}
	fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
		loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
	if err = checkpoint.Save(); err != nil {
		klog.Errorf("Failed to save final checkpoint in %q: %+v", checkpointPath, err)
	}

	// Save the label encoder next to the checkpoints, so predictions can be
	// decoded back to subjects without reloading the dataset.
	encoderPath := path.Join(baseDir, EncoderFileName(suffix))
	if err = Encoder.Save(encoderPath); err != nil {
		return err
	}
	fmt.Printf("Label encoder saved to %q\n", encoderPath)

	// Finally, print an evaluation on the train, validation and test splits.
	fmt.Println()
	if err = commandline.ReportEval(trainer, trainEvalDS, validEvalDS, testEvalDS); err != nil {
		return errors.WithMessage(err, "while reporting eval")
	}
	return nil
}

func newTrainer(backend backends.Backend, ctx *context.Context) *train.Trainer {
	// Loss: multi-class classification over the paper subjects.
	lossFn := losses.SparseCategoricalCrossEntropyLogits

	// Metrics we are interested in.
	meanAccuracyMetric := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)

	return train.NewTrainer(backend, ctx, ModelGraph,
		lossFn,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
		[]metrics.Interface{meanAccuracyMetric})   // evalMetrics
}

// Eval loads the checkpoint configured in `ctx` and reports the evaluation
// metrics on the given datasets -- if none given, it evaluates on the train,
// validation and test splits. It requires [Load] and [MakeSplits] to have
// been called first.
func Eval(backend backends.Backend, ctx *context.Context, baseDir string, datasets ...train.Dataset) error {
	baseDir = mldata.ReplaceTildeInDir(baseDir)
	UploadCoraVariables(ctx)

	checkpointPath := checkpointDir(ctx, baseDir)
	if !mldata.FileExists(checkpointPath) {
		return errors.Errorf("no trained model found in %q, please train one first", checkpointPath)
	}
	_, err := checkpoints.Build(ctx).Dir(checkpointPath).Done()
	if err != nil {
		return errors.WithMessagef(err, "while loading checkpoint from %q", checkpointPath)
	}
	globalStep := optimizers.GetGlobalStep(ctx)
	fmt.Printf("Model in %q trained for %d steps.\n", checkpointPath, globalStep)

	// The encoder saved by Train decodes predictions without reloading the
	// dataset -- use it when present, it must match the model being evaluated.
	encoderPath := path.Join(baseDir, EncoderFileName(hyperparametersSuffix(ctx)))
	if savedEncoder, err := LoadLabelEncoder(encoderPath); err == nil {
		Encoder = savedEncoder
	} else if !os.IsNotExist(err) {
		return err
	}

	if len(datasets) == 0 {
		numSamples := sage.NumSamples(ctx)
		var trainEvalDS, validEvalDS, testEvalDS train.Dataset
		_, trainEvalDS, validEvalDS, testEvalDS, err = MakeDatasets(baseDir, BatchSize, numSamples)
		if err != nil {
			return err
		}
		datasets = []train.Dataset{trainEvalDS, validEvalDS, testEvalDS}
	}

	trainer := newTrainer(backend, ctx)
	for _, ds := range datasets {
		start := time.Now()
		if err := commandline.ReportEval(trainer, ds); err != nil {
			return errors.WithMessagef(err, "while reporting eval on %q", ds.Name())
		}
		fmt.Printf("\telapsed %s (%s)\n", time.Since(start), ds.Name())
	}
	return nil
}

// PredictAllPapers runs the trained model over every paper of the graph and
// returns the predicted subjects, decoded with the fitted [Encoder] and
// indexed like [PaperIDs]. It also prints the accuracy against the true
// subjects.
//
// The model variables must already be in `ctx`, either from training or from
// a loaded checkpoint.
func PredictAllPapers(backend backends.Backend, ctx *context.Context, baseDir string) ([]string, error) {
	baseDir = mldata.ReplaceTildeInDir(baseDir)
	allDS, strategy, err := MakeAllPapersDataset(baseDir, BatchSize, sage.NumSamples(ctx))
	if err != nil {
		return nil, err
	}

	// Reuse the trained variables, inference only.
	exec := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, inputs []*Node) []*Node {
		outputs := ModelGraph(ctx, strategy, inputs)
		logits, mask := outputs[0], outputs[1]
		return []*Node{ArgMax(logits, -1, dtypes.Int32), mask}
	})

	predictions := make([]int32, NumPapers)
	seen := make([]bool, NumPapers)
	for {
		_, inputs, _, err := allDS.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		outputs := exec.Call(tensorsToAnys(inputs)...)
		// Scatter the batch predictions by their seed indices: the parallel
		// sampling may deliver batches out of order.
		tensors.ConstFlatData[int32](inputs[0], func(seeds []int32) {
			tensors.ConstFlatData[int32](outputs[0], func(batchPredictions []int32) {
				tensors.ConstFlatData[bool](outputs[1], func(mask []bool) {
					for ii, paperIdx := range seeds {
						if !mask[ii] {
							continue
						}
						predictions[paperIdx] = batchPredictions[ii]
						seen[paperIdx] = true
					}
				})
			})
		})
	}

	var correct, total int
	subjects := make([]string, NumPapers)
	tensors.ConstFlatData[int32](PapersLabels, func(labels []int32) {
		for paperIdx := range NumPapers {
			if !seen[paperIdx] {
				continue
			}
			total++
			if predictions[paperIdx] == labels[paperIdx] {
				correct++
			}
		}
	})
	for paperIdx := range NumPapers {
		subjects[paperIdx], err = Encoder.ClassOf(int(predictions[paperIdx]))
		if err != nil {
			return nil, err
		}
	}
	if total > 0 {
		fmt.Printf("Accuracy on all %d papers: %.4f\n", total, float64(correct)/float64(total))
	}
	return subjects, nil
}

func tensorsToAnys(inputs []*tensors.Tensor) []any {
	args := make([]any, len(inputs))
	for ii, t := range inputs {
		args[ii] = t
	}
	return args
}

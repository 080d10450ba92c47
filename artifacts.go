package cora

import (
	"fmt"
	"strconv"
	"strings"
)

// ArtifactSuffix encodes the main hyperparameters into a file name suffix,
// so artifacts trained with different settings don't overwrite each other.
//
// E.g. with numSamples=[20, 10], layerSizes=[20, 20], dropout=0 and
// learningRate=0.005 it returns "_n20_10_l20_20_d0_r0.005".
func ArtifactSuffix(numSamples, layerSizes []int, dropout, learningRate float64) string {
	return fmt.Sprintf("_n%s_l%s_d%s_r%s",
		joinInts(numSamples), joinInts(layerSizes),
		formatFloat(dropout), formatFloat(learningRate))
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = strconv.Itoa(v)
	}
	return strings.Join(parts, "_")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ModelDirName is the name of the checkpoint directory where the trained
// model is saved, under the data directory.
func ModelDirName(suffix string) string {
	return "cora_model" + suffix
}

// EncoderFileName is the name of the file where the fitted [LabelEncoder] is
// saved, under the data directory.
func EncoderFileName(suffix string) string {
	return "cora_encoder" + suffix + ".bin"
}

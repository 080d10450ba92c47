package cora

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactSuffix(t *testing.T) {
	assert.Equal(t, "_n20_10_l20_20_d0_r0.005",
		ArtifactSuffix([]int{20, 10}, []int{20, 20}, 0, 0.005))
	assert.Equal(t, "_n5_5_l8_8_d0.1_r0.01",
		ArtifactSuffix([]int{5, 5}, []int{8, 8}, 0.1, 0.01))
	assert.Equal(t, "_n7_l16_d0.5_r0.001",
		ArtifactSuffix([]int{7}, []int{16}, 0.5, 0.001))
}

func TestArtifactNames(t *testing.T) {
	suffix := ArtifactSuffix([]int{20, 10}, []int{20, 20}, 0, 0.005)
	assert.Equal(t, "cora_model_n20_10_l20_20_d0_r0.005", ModelDirName(suffix))
	assert.Equal(t, "cora_encoder_n20_10_l20_20_d0_r0.005.bin", EncoderFileName(suffix))
}

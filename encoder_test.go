package cora

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelEncoder(t *testing.T) {
	e := FitLabelEncoder([]string{"Theory", "Neural_Networks", "Theory", "Genetic_Algorithms"})
	assert.Equal(t, []string{"Genetic_Algorithms", "Neural_Networks", "Theory"}, e.Classes)
	assert.Equal(t, 3, e.NumClasses())

	idx, err := e.Transform("Theory")
	require.NoError(t, err)
	assert.EqualValues(t, 2, idx)

	label, err := e.ClassOf(1)
	require.NoError(t, err)
	assert.Equal(t, "Neural_Networks", label)

	_, err = e.Transform("Reinforcement_Learning")
	require.ErrorContains(t, err, "not in the fitted vocabulary")
	_, err = e.ClassOf(7)
	require.ErrorContains(t, err, "out of range")
}

func TestLabelEncoderOneHotAndDecode(t *testing.T) {
	e := FitLabelEncoder([]string{"a", "b", "c"})
	oneHot, err := e.OneHot("b")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, oneHot)

	// Decode inverts OneHot, and works on arbitrary probability vectors.
	label, err := e.Decode(oneHot)
	require.NoError(t, err)
	assert.Equal(t, "b", label)
	label, err = e.Decode([]float32{0.2, 0.3, 0.5})
	require.NoError(t, err)
	assert.Equal(t, "c", label)

	_, err = e.Decode([]float32{1, 0})
	require.ErrorContains(t, err, "encoder has 3 classes")
}

func TestLabelEncoderSaveAndLoad(t *testing.T) {
	e := FitLabelEncoder([]string{"Theory", "Neural_Networks"})
	filePath := filepath.Join(t.TempDir(), "encoder.bin")
	require.NoError(t, e.Save(filePath))

	loaded, err := LoadLabelEncoder(filePath)
	require.NoError(t, err)
	assert.Equal(t, e.Classes, loaded.Classes)
	idx, err := loaded.Transform("Theory")
	require.NoError(t, err)
	assert.EqualValues(t, 1, idx)

	_, err = LoadLabelEncoder(filepath.Join(t.TempDir(), "missing.bin"))
	require.True(t, os.IsNotExist(err))
}

package cora

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetDatasetState clears the package-level dataset between tests -- Load is
// idempotent and would otherwise keep the previous test's data.
func resetDatasetState() {
	NumPapers = 0
	PaperIDs = nil
	Encoder = nil
	PapersFeatures = nil
	PapersLabels = nil
	EdgesCites = nil
	TrainSplit, ValidSplit, TestSplit = nil, nil, nil
}

// writeTestGraph writes a miniature citation graph in the Cora file format:
// 10 papers with sparse ids, one word feature set per paper, 5 citations.
func writeTestGraph(t *testing.T) (graphDir string, ids []int, subjects []string) {
	graphDir = t.TempDir()
	ids = []int{101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	subjects = make([]string, len(ids))

	var content strings.Builder
	for ii, id := range ids {
		if ii%2 == 0 {
			subjects[ii] = "Theory"
		} else {
			subjects[ii] = "Neural_Networks"
		}
		features := make([]string, NumFeatures)
		for jj := range features {
			features[jj] = "0"
		}
		features[ii] = "1" // Paper ii contains only word ii.
		fmt.Fprintf(&content, "%d\t%s\t%s\n", id, strings.Join(features, "\t"), subjects[ii])
	}
	require.NoError(t, os.WriteFile(filepath.Join(graphDir, ContentFile), []byte(content.String()), 0644))

	cites := "101\t102\n103\t101\n105\t110\n110\t101\n104\t105\n"
	require.NoError(t, os.WriteFile(filepath.Join(graphDir, CitesFile), []byte(cites), 0644))
	return
}

func TestLoad(t *testing.T) {
	resetDatasetState()
	graphDir, ids, subjects := writeTestGraph(t)
	require.NoError(t, Load(graphDir, TargetColumn))

	assert.Equal(t, 10, NumPapers)
	require.Len(t, PaperIDs, 10)
	for ii, id := range ids {
		assert.EqualValues(t, id, PaperIDs[ii])
	}

	require.NotNil(t, Encoder)
	assert.Equal(t, []string{"Neural_Networks", "Theory"}, Encoder.Classes)
	assert.Equal(t, 2, NumClasses())

	require.NoError(t, PapersFeatures.Shape().Check(dtypes.Float32, 10, NumFeatures))
	features := tensors.CopyFlatData[float32](PapersFeatures)
	for ii := range 10 {
		assert.EqualValues(t, 1, features[ii*NumFeatures+ii])
		if ii > 0 {
			assert.EqualValues(t, 0, features[ii*NumFeatures+ii-1])
		}
	}

	require.NoError(t, PapersLabels.Shape().Check(dtypes.Int32, 10, 1))
	labels := tensors.CopyFlatData[int32](PapersLabels)
	for ii, subject := range subjects {
		wantLabel, err := Encoder.Transform(subject)
		require.NoError(t, err)
		assert.Equal(t, wantLabel, labels[ii])
	}

	require.NoError(t, EdgesCites.Shape().Check(dtypes.Int32, 5, 2))
	assert.Equal(t, []int32{0, 1, 2, 0, 4, 9, 9, 0, 3, 4}, tensors.CopyFlatData[int32](EdgesCites))

	// Load is idempotent: a second call with a bogus directory is a no-op.
	require.NoError(t, Load("/does/not/exist", TargetColumn))
	assert.Equal(t, 10, NumPapers)
}

func TestLoadMalformedContent(t *testing.T) {
	resetDatasetState()
	graphDir := t.TempDir()
	// A content row missing the feature columns.
	content := "101\t0\t1\tTheory\n"
	require.NoError(t, os.WriteFile(filepath.Join(graphDir, ContentFile), []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(graphDir, CitesFile), []byte("101\t101\n"), 0644))

	err := Load(graphDir, TargetColumn)
	require.Error(t, err)
}

func TestLoadUnknownPaperInCites(t *testing.T) {
	resetDatasetState()
	graphDir, _, _ := writeTestGraph(t)
	// Add an edge referencing a paper id absent from the content table.
	f, err := os.OpenFile(filepath.Join(graphDir, CitesFile), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("101\t999\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = Load(graphDir, TargetColumn)
	require.ErrorContains(t, err, "unknown paper id")
}

func TestFeatureNames(t *testing.T) {
	names := FeatureNames(3)
	assert.Equal(t, []string{"w_0", "w_1", "w_2"}, names)
	columns := contentColumnNames(3, "subject")
	assert.Equal(t, []string{"id", "w_0", "w_1", "w_2", "subject"}, columns)
}

package cora

import (
	"fmt"
	"os"
	"path"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// FeatureNames returns the column names for the word-presence features:
// "w_0" to "w_<n-1>".
func FeatureNames(n int) []string {
	names := make([]string, n)
	for ii := range names {
		names[ii] = fmt.Sprintf("w_%d", ii)
	}
	return names
}

// contentColumnNames returns the full column names of the content table:
// the paper id, the feature columns and the trailing target column.
func contentColumnNames(numFeatures int, target string) []string {
	names := make([]string, 0, numFeatures+2)
	names = append(names, "id")
	names = append(names, FeatureNames(numFeatures)...)
	return append(names, target)
}

// readTable reads one of the tab-separated, headerless Cora files into a
// dataframe with the given column names and types.
func readTable(filePath string, names []string, types map[string]series.Type) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(false),
		dataframe.WithDelimiter('\t'),
		dataframe.Names(names...),
		dataframe.WithTypes(types))
	if df.Error() != nil {
		return df, errors.Wrapf(df.Error(), "failed to parse %q", filePath)
	}
	if df.Ncol() != len(names) {
		return df, errors.Errorf("file %q has %d columns, expected %d (%d features + id + target)",
			filePath, df.Ncol(), len(names), len(names)-2)
	}
	return df, nil
}

// Load reads `cora.cites` and `cora.content` from `graphDir` and fills in the
// package-level tensors ([EdgesCites], [PapersFeatures], [PapersLabels]) and
// the fitted [Encoder]. Original sparse paper ids are remapped to dense
// indices `[0, NumPapers)`, kept in [PaperIDs].
//
// `target` is the name given to the trailing categorical column, usually
// [TargetColumn] ("subject").
//
// Loading is idempotent: if the tensors are already set, it does nothing.
func Load(graphDir, target string) error {
	if PapersFeatures != nil {
		return nil
	}
	graphDir = mldata.ReplaceTildeInDir(graphDir)

	// Node table: id + 1433 features + target.
	contentNames := contentColumnNames(NumFeatures, target)
	contentTypes := map[string]series.Type{"id": series.Int, target: series.String}
	for _, name := range FeatureNames(NumFeatures) {
		contentTypes[name] = series.Float
	}
	content, err := readTable(path.Join(graphDir, ContentFile), contentNames, contentTypes)
	if err != nil {
		return err
	}

	// Edge list: pairs of paper ids.
	cites, err := readTable(path.Join(graphDir, CitesFile),
		[]string{"source", "target"},
		map[string]series.Type{"source": series.Int, "target": series.Int})
	if err != nil {
		return err
	}

	return buildTensors(content, cites, target)
}

// buildTensors converts the parsed tables into the package-level tensors.
func buildTensors(content, cites dataframe.DataFrame, target string) error {
	numPapers := content.Nrow()
	if numPapers == 0 {
		return errors.Errorf("content table has no rows")
	}

	// Dense index per paper id.
	ids, err := content.Col("id").Int()
	if err != nil {
		return errors.Wrap(err, "failed to parse paper ids")
	}
	paperIDs := make([]int64, numPapers)
	idToIndex := make(map[int]int32, numPapers)
	for ii, id := range ids {
		if _, found := idToIndex[id]; found {
			return errors.Errorf("duplicate paper id %d in content table", id)
		}
		paperIDs[ii] = int64(id)
		idToIndex[id] = int32(ii)
	}

	// Features, in column-major reads, row-major layout.
	features := make([]float32, numPapers*NumFeatures)
	for col, name := range FeatureNames(NumFeatures) {
		values := content.Col(name).Float()
		for row, v := range values {
			features[row*NumFeatures+col] = float32(v)
		}
	}

	// Labels through a freshly fitted encoder.
	subjects := content.Col(target).Records()
	encoder := FitLabelEncoder(subjects)
	labels := make([]int32, numPapers)
	for ii, subject := range subjects {
		labels[ii], err = encoder.Transform(subject)
		if err != nil {
			return err
		}
	}

	// Edges, remapped to dense indices.
	numEdges := cites.Nrow()
	sources, err := cites.Col("source").Int()
	if err != nil {
		return errors.Wrap(err, "failed to parse edge sources")
	}
	targets, err := cites.Col("target").Int()
	if err != nil {
		return errors.Wrap(err, "failed to parse edge targets")
	}
	edges := make([]int32, 0, 2*numEdges)
	for row := range numEdges {
		srcIdx, found := idToIndex[sources[row]]
		if !found {
			return errors.Errorf("edge row %d references unknown paper id %d", row, sources[row])
		}
		tgtIdx, found := idToIndex[targets[row]]
		if !found {
			return errors.Errorf("edge row %d references unknown paper id %d", row, targets[row])
		}
		edges = append(edges, srcIdx, tgtIdx)
	}

	NumPapers = numPapers
	PaperIDs = paperIDs
	Encoder = encoder
	PapersFeatures = tensors.FromFlatDataAndDimensions(features, numPapers, NumFeatures)
	PapersLabels = tensors.FromFlatDataAndDimensions(labels, numPapers, 1)
	EdgesCites = tensors.FromFlatDataAndDimensions(edges, numEdges, 2)
	return nil
}

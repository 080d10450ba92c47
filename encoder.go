package cora

import (
	"encoding/gob"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// LabelEncoder is a fitted, invertible mapping between the categorical label
// strings and their class indices (and one-hot vectors). It is persisted next
// to the trained model so predictions can be decoded back to category names.
type LabelEncoder struct {
	// Classes holds the label vocabulary in deterministic (sorted) order.
	// The class index of `Classes[i]` is `i`.
	Classes []string

	indices map[string]int32
}

// FitLabelEncoder builds a LabelEncoder from the observed labels. Duplicates
// are fine, the vocabulary is the sorted set of distinct values.
func FitLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]bool, len(labels))
	for _, label := range labels {
		seen[label] = true
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	e := &LabelEncoder{Classes: classes}
	e.buildIndices()
	return e
}

func (e *LabelEncoder) buildIndices() {
	e.indices = make(map[string]int32, len(e.Classes))
	for ii, label := range e.Classes {
		e.indices[label] = int32(ii)
	}
}

// NumClasses returns the size of the fitted vocabulary.
func (e *LabelEncoder) NumClasses() int { return len(e.Classes) }

// Transform returns the class index of the given label. It fails for labels
// not seen during fitting.
func (e *LabelEncoder) Transform(label string) (int32, error) {
	idx, found := e.indices[label]
	if !found {
		return 0, errors.Errorf("label %q not in the fitted vocabulary (%d classes)", label, len(e.Classes))
	}
	return idx, nil
}

// ClassOf is the inverse of Transform: the label string for a class index.
func (e *LabelEncoder) ClassOf(index int) (string, error) {
	if index < 0 || index >= len(e.Classes) {
		return "", errors.Errorf("class index %d out of range, encoder has %d classes", index, len(e.Classes))
	}
	return e.Classes[index], nil
}

// OneHot returns the one-hot encoding of the given label, a vector of length
// [NumClasses].
func (e *LabelEncoder) OneHot(label string) ([]float32, error) {
	idx, err := e.Transform(label)
	if err != nil {
		return nil, err
	}
	oneHot := make([]float32, len(e.Classes))
	oneHot[idx] = 1
	return oneHot, nil
}

// Decode inverts a one-hot (or probability) vector back to the label string
// of its largest entry.
func (e *LabelEncoder) Decode(vector []float32) (string, error) {
	if len(vector) != len(e.Classes) {
		return "", errors.Errorf("vector has %d entries, encoder has %d classes", len(vector), len(e.Classes))
	}
	best := 0
	for ii, v := range vector {
		if v > vector[best] {
			best = ii
		}
	}
	return e.Classes[best], nil
}

// Save serializes the encoder with gob to the given file.
func (e *LabelEncoder) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save LabelEncoder", filePath)
	}
	enc := gob.NewEncoder(f)
	if err = enc.Encode(e); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding LabelEncoder to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %q after saving LabelEncoder", filePath)
	}
	return nil
}

// LoadLabelEncoder reads back an encoder saved with [LabelEncoder.Save].
// If filePath doesn't exist, it returns an error checkable with [os.IsNotExist].
func LoadLabelEncoder(filePath string) (*LabelEncoder, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "opening %q to load LabelEncoder", filePath)
	}
	defer func() { _ = f.Close() }()
	e := &LabelEncoder{}
	if err = gob.NewDecoder(f).Decode(e); err != nil {
		return nil, errors.Wrapf(err, "decoding LabelEncoder from %q", filePath)
	}
	e.buildIndices()
	return e, nil
}

// Package sampler dynamically samples fixed-shape neighborhoods of a
// homogeneous graph, to be used in GNN models.
//
// It always samples the same number of nodes per rule, padding whenever there
// are not enough elements to sample from, so the resulting tensors always
// have the same shape -- required by XLA. Use the mask yielded along each
// node tensor to check whether a value is padding.
//
// There are 3 phases when using it:
//
// (1) Specify the graph topology, as one or more named edge sets:
//
//	s := sampler.New(numNodes)
//	s.AddEdges("cites", edges /*reverse=*/, false)
//	s.AddEdges("citedBy", edges /*reverse=*/, true)
//
// (2) Create a sampling strategy: a tree of rules rooted on the seed nodes,
// each edge rule with a fixed fan-out:
//
//	strategy := s.NewStrategy()
//	seeds := strategy.NodesFromSet("seeds", batchSize, trainNodeIDs)
//	hop1 := seeds.FromEdges("hop1", "cites", 20)
//	hop2 := hop1.FromEdges("hop2", "cites", 10)
//
// (3) Create datasets from the strategy and let a train.Loop consume them:
//
//	ds := strategy.NewDataset("train").Shuffle().Infinite()
//	spec, inputs, _, err := ds.Yield()
//	states, _ := sampler.MapInputsToStates[*tensors.Tensor](spec.(*sampler.Strategy), inputs)
package sampler

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	humanize "github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// PaddingIndex is used for all sampling not fulfilled. Notice 0 is also a
// valid node index: always use the mask returned along the sampled nodes to
// check whether a value is padding.
const PaddingIndex = 0

// Sampler holds the graph topology to sample from: the node count and the
// edge sets, stored as CSR adjacency for fast per-source lookups.
//
// All the information kept by Sampler is available for reading, but avoid
// changing it directly; use the provided methods.
type Sampler struct {
	NumNodes int32
	EdgeSets map[string]*EdgeSet

	// Frozen is set once a strategy is created: the Sampler can no longer be
	// changed.
	Frozen bool
}

// EdgeSet is one named set of directed edges, in CSR form.
type EdgeSet struct {
	Name string

	// Starts has one entry per source node (shifted by 1): it points to the
	// end of the list of targets for that source in EdgeTargets. So for
	// source node `i` the targets are `EdgeTargets[Starts[i-1]:Starts[i]]`
	// (starting at 0 for `i == 0`).
	Starts []int32

	// EdgeTargets lists target nodes, grouped by source node.
	EdgeTargets []int32
}

// NumEdges in this edge set.
func (es *EdgeSet) NumEdges() int { return len(es.EdgeTargets) }

// TargetsForSource returns the slice of target nodes for the given source
// node. Don't modify the returned slice, it's in use by the Sampler.
func (es *EdgeSet) TargetsForSource(srcIdx int32) []int32 {
	if srcIdx < 0 || int(srcIdx) >= len(es.Starts) {
		Panicf("invalid source node index %d for edge set %q (only %d nodes)",
			srcIdx, es.Name, len(es.Starts))
	}
	var start int32
	if srcIdx > 0 {
		start = es.Starts[srcIdx-1]
	}
	return es.EdgeTargets[start:es.Starts[srcIdx]]
}

// New creates a new empty Sampler over a graph with `numNodes` nodes.
// Node indices are dense, from 0 to `numNodes-1`.
//
// After creating it, use AddEdges to register the edge sets to sample from.
func New(numNodes int) *Sampler {
	if numNodes <= 0 {
		Panicf("sampler.New(numNodes=%d): numNodes must be > 0", numNodes)
	}
	if numNodes > math.MaxInt32 {
		Panicf("sampler uses int32 indices, %d nodes is more than the max possible", numNodes)
	}
	return &Sampler{
		NumNodes: int32(numNodes),
		EdgeSets: make(map[string]*EdgeSet),
	}
}

// AddEdges registers a named edge set, given as pairs (source, target).
//
// If `reverse` is true, the direction of sampling is inverted: the pairs are
// interpreted as (target, source) instead. Registering the same tensor twice,
// once reversed, gives the two directions of an undirected graph.
//
// The `edges` tensor must be shaped (Int32)[N, 2]. Its contents are sorted in
// place by the sampling source column -- the edge information itself is
// preserved.
func (s *Sampler) AddEdges(name string, edges *tensors.Tensor, reverse bool) {
	if s.Frozen {
		Panicf("Sampler is frozen: a strategy was already created with NewStrategy(), it can no longer be modified")
	}
	if _, found := s.EdgeSets[name]; found {
		Panicf("edge set named %q already registered", name)
	}
	if edges.Rank() != 2 || edges.DType() != dtypes.Int32 ||
		edges.Shape().Dimensions[1] != 2 || edges.Shape().Dimensions[0] == 0 {
		Panicf("invalid edges shape %s for AddEdges(%q): it must be shaped like (Int32)[N, 2]",
			edges.Shape(), name)
	}
	columnSrc, columnTgt := 0, 1
	if reverse {
		columnSrc, columnTgt = 1, 0
	}

	tensors.MutableFlatData[int32](edges, func(edgesData []int32) {
		// Stable: edges of the same source keep their input order, which is
		// visible through EdgeSet.TargetsForSource.
		pairs := pairsToSort{data: edgesData, sortColumn: columnSrc}
		sort.Stable(&pairs)

		numEdges := int32(len(edgesData) / 2)
		es := &EdgeSet{
			Name:        name,
			Starts:      make([]int32, s.NumNodes),
			EdgeTargets: make([]int32, numEdges),
		}
		currentSrc := int32(0)
		for row := int32(0); row < numEdges; row++ {
			srcIdx := edgesData[row<<1+int32(columnSrc)]
			tgtIdx := edgesData[row<<1+int32(columnTgt)]
			if srcIdx < 0 || srcIdx >= s.NumNodes {
				Panicf("edge set %q row %d has source node %d, but the graph only has %d nodes",
					name, row, srcIdx, s.NumNodes)
			}
			if tgtIdx < 0 || tgtIdx >= s.NumNodes {
				Panicf("edge set %q row %d has target node %d, but the graph only has %d nodes",
					name, row, tgtIdx, s.NumNodes)
			}
			es.EdgeTargets[row] = tgtIdx
			for currentSrc < srcIdx {
				es.Starts[currentSrc] = row
				currentSrc++
			}
		}
		for ; currentSrc < s.NumNodes; currentSrc++ {
			es.Starts[currentSrc] = numEdges
		}
		s.EdgeSets[name] = es
	})
}

type pairsToSort struct {
	data       []int32
	sortColumn int
}

func (p *pairsToSort) Len() int { return len(p.data) / 2 }
func (p *pairsToSort) Less(i, j int) bool {
	return p.data[i<<1+p.sortColumn] < p.data[j<<1+p.sortColumn]
}
func (p *pairsToSort) Swap(i, j int) {
	for column := 0; column < 2; column++ {
		p.data[i<<1+column], p.data[j<<1+column] = p.data[j<<1+column], p.data[i<<1+column]
	}
}

// NewStrategy yields a new Strategy based on the Sampler's graph.
//
// Once a strategy is created the Sampler can no longer be changed -- but
// multiple strategies can be created from the same Sampler.
func (s *Sampler) NewStrategy() *Strategy {
	s.Frozen = true
	return &Strategy{
		Sampler: s,
		Rules:   make(map[string]*Rule),
	}
}

// String returns a multi-line description of the Sampler.
func (s *Sampler) String() string {
	parts := make([]string, 0, 1+len(s.EdgeSets))
	var frozenDesc string
	if s.Frozen {
		frozenDesc = ", frozen"
	}
	parts = append(parts, fmt.Sprintf("Sampler: %s nodes, %d edge sets%s",
		humanize.Comma(int64(s.NumNodes)), len(s.EdgeSets), frozenDesc))
	names := make([]string, 0, len(s.EdgeSets))
	for name := range s.EdgeSets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("\tEdgeSet %q: %s edges",
			name, humanize.Comma(int64(s.EdgeSets[name].NumEdges()))))
	}
	return strings.Join(parts, "\n")
}

func initGob() {
	gob.Register(&EdgeSet{})
	gob.Register(&Sampler{})
}

// Save the Sampler, edge indices included, so it can be reloaded ready to go.
func (s *Sampler) Save(filePath string) error {
	initGob()
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save Sampler", filePath)
	}
	if err = gob.NewEncoder(f).Encode(s); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "encoding Sampler to save to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %q, where Sampler was saved", filePath)
	}
	return nil
}

// Load a previously saved Sampler. If filePath doesn't exist, it returns an
// error that can be checked with [os.IsNotExist].
func Load(filePath string) (*Sampler, error) {
	initGob()
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "trying to load Sampler from %q", filePath)
	}
	defer func() { _ = f.Close() }()
	s := &Sampler{}
	if err = gob.NewDecoder(f).Decode(s); err != nil {
		return nil, errors.Wrapf(err, "trying to decode Sampler from %q", filePath)
	}
	return s, nil
}

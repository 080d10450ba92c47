package sampler

import (
	"io"
	"math/rand/v2"
	"sync"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/xslices"
)

// Dataset implements train.Dataset by sampling sub-graphs according to a
// [Strategy]. Before the first [Dataset.Yield] it can be configured to
// shuffle, to run several epochs or to loop indefinitely. Batch size is not
// configurable here, it is part of the strategy (the seed rules' count).
//
// The Dataset is re-entrant, so it can be wrapped with [data.Parallel].
//
// No labels are generated: [Dataset.Yield] returns nil labels, and the labels
// of the sampled seeds must be gathered inside the model graph.
type Dataset struct {
	name                     string
	sampler                  *Sampler
	strategy                 *Strategy
	numEpochs                int
	shuffle, withReplacement bool

	muSample                sync.Mutex
	currentEpoch            int
	frozen                  bool
	startOfEpoch, exhausted bool

	// Position of the next seed to take, per seed rule -- indices either into
	// the rule's NodeSet or into seedsShuffle, if shuffling.
	seedsPosition []int32

	// seedsShuffle holds the shuffled candidate seeds per seed rule, if
	// shuffling. Reshuffled at the start of every epoch.
	seedsShuffle [][]int32
}

// NewDataset creates a new [Dataset] from the configured [Strategy].
// One can create multiple datasets from the same strategy, but once a dataset
// is created the strategy is frozen and can no longer be modified.
func (strategy *Strategy) NewDataset(name string) *Dataset {
	if len(strategy.Seeds) == 0 {
		Panicf("cannot create a Dataset from a strategy with no seed rules -- see Strategy.Nodes and Strategy.NodesFromSet")
	}
	strategy.frozen = true
	return &Dataset{
		name:          name,
		sampler:       strategy.Sampler,
		strategy:      strategy,
		numEpochs:     1,
		startOfEpoch:  true,
		seedsPosition: make([]int32, len(strategy.Seeds)),
	}
}

// Epochs configures the dataset to yield that many epochs. Default is 1.
//
// If there is more than one seed rule, an epoch finishes when the first of
// them is exhausted.
//
// It returns itself to allow cascading configuration calls.
func (ds *Dataset) Epochs(n int) *Dataset {
	if ds.frozen {
		Panicf("cannot change a Dataset that already started yielding results")
	}
	if ds.withReplacement {
		Panicf("cannot configure Epochs for a dataset configured WithReplacement()")
	}
	if n <= 0 {
		Panicf("for Dataset.Epochs(n), n > 0, but got n=%d instead", n)
	}
	ds.numEpochs = n
	return ds
}

// Infinite configures the dataset to loop over epochs indefinitely.
// Default is 1 epoch.
func (ds *Dataset) Infinite() *Dataset {
	if ds.frozen {
		Panicf("cannot change a Dataset that already started yielding results")
	}
	ds.numEpochs = -1
	return ds
}

// WithReplacement configures the dataset to sample seeds with replacement.
// This automatically implies Shuffle and Infinite.
func (ds *Dataset) WithReplacement() *Dataset {
	if ds.frozen {
		Panicf("cannot change a Dataset that already started yielding results")
	}
	ds.withReplacement = true
	return ds.Infinite().Shuffle()
}

// Shuffle configures the dataset to shuffle the seed nodes before sampling.
// The seeds are reshuffled at every new epoch, yielding random samples
// without replacement.
func (ds *Dataset) Shuffle() *Dataset {
	if ds.frozen {
		Panicf("cannot change a Dataset that already started yielding results")
	}
	ds.shuffle = true
	return ds
}

var _ train.Dataset = &Dataset{}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset: it restarts the Dataset after exhaustion.
func (ds *Dataset) Reset() {
	ds.muSample.Lock()
	defer ds.muSample.Unlock()
	ds.frozen = true
	ds.startOfEpoch = true
	ds.exhausted = false
	ds.currentEpoch = 0
}

// Yield implements train.Dataset.
//
// The returned spec is the dataset's *[Strategy]; with it and the inputs, use
// [MapInputsToStates] to recover the sampled tensors per rule name. The
// inputs hold a pair (nodes, mask) per rule, in the strategy's traversal
// order (each seed rule followed by its dependents, depth-first).
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.muSample.Lock()
	var unlocked bool
	defer func() {
		if !unlocked {
			ds.muSample.Unlock()
		}
	}()

	spec = ds.strategy
	if ds.exhausted {
		err = io.EOF
		return
	}

	inputs = make([]*tensors.Tensor, 0, 2*len(ds.strategy.Rules))
	ds.frozen = true
	if ds.startOfEpoch {
		ds.startEpoch()
	}

	// Sampling seeds touches the epoch cursors and requires the lock.
	numSeeds := len(ds.strategy.Seeds)
	seedsTensors := make([]*tensors.Tensor, 0, 2*numSeeds)
	for ii, seedsRule := range ds.strategy.Seeds {
		seeds, mask := ds.sampleSeeds(ii, seedsRule)
		seedsTensors = append(seedsTensors, seeds, mask)
	}

	// Sampling edges only reads the frozen Sampler, no lock needed.
	ds.muSample.Unlock()
	unlocked = true
	for seedIdx, seedsRule := range ds.strategy.Seeds {
		seeds, mask := seedsTensors[2*seedIdx], seedsTensors[2*seedIdx+1]
		inputs = append(inputs, seeds, mask)
		inputs = recursivelySampleEdges(seedsRule, seeds, mask, inputs)
	}
	return
}

// sampleSeeds returns the sampled seeds and their mask for one seed rule.
// ds.muSample must be held.
func (ds *Dataset) sampleSeeds(seedIdx int, rule *Rule) (seeds, mask *tensors.Tensor) {
	seeds = tensors.FromScalarAndDimensions(int32(PaddingIndex), rule.Count)
	mask = tensors.FromScalarAndDimensions(false, rule.Count)

	tensors.MutableFlatData[int32](seeds, func(seedsData []int32) {
		tensors.MutableFlatData[bool](mask, func(maskData []bool) {
			if ds.withReplacement {
				for ii := range rule.Count {
					maskData[ii] = true
				}
				if len(rule.NodeSet) > 0 {
					for ii := range rule.Count {
						seedsData[ii] = rule.NodeSet[rand.IntN(len(rule.NodeSet))]
					}
				} else {
					for ii := range rule.Count {
						seedsData[ii] = int32(rand.IntN(int(rule.NumNodes)))
					}
				}

			} else if ds.shuffle {
				// Take the next chunk of this epoch's shuffle.
				shuffle := ds.seedsShuffle[seedIdx]
				pos := ds.seedsPosition[seedIdx]
				numToSample := int32(min(len(shuffle)-int(pos), rule.Count))
				ds.seedsPosition[seedIdx] += numToSample
				if int(ds.seedsPosition[seedIdx]) >= len(shuffle) {
					ds.epochFinished()
				}
				copy(seedsData, shuffle[pos:pos+numToSample])
				for ii := range numToSample {
					maskData[ii] = true
				}

			} else if len(rule.NodeSet) > 0 {
				// Sequentially over the node set, original order.
				pos := ds.seedsPosition[seedIdx]
				numToSample := int32(min(len(rule.NodeSet)-int(pos), rule.Count))
				ds.seedsPosition[seedIdx] += numToSample
				if int(ds.seedsPosition[seedIdx]) >= len(rule.NodeSet) {
					ds.epochFinished()
				}
				for ii := range numToSample {
					seedsData[ii] = rule.NodeSet[pos+ii]
					maskData[ii] = true
				}

			} else {
				// Sequentially over all node indices, 0 to NumNodes-1.
				pos := ds.seedsPosition[seedIdx]
				numToSample := min(rule.NumNodes-pos, int32(rule.Count))
				ds.seedsPosition[seedIdx] += numToSample
				if ds.seedsPosition[seedIdx] >= rule.NumNodes {
					ds.epochFinished()
				}
				for ii := range numToSample {
					seedsData[ii] = pos + ii
					maskData[ii] = true
				}
			}
		})
	})
	return
}

// recursivelySampleEdges walks the dependents of `rule` depth-first, sampling
// each and appending the resulting (nodes, mask) pairs to `store`.
func recursivelySampleEdges(rule *Rule, nodes, mask *tensors.Tensor, store []*tensors.Tensor) []*tensors.Tensor {
	for _, subRule := range rule.Dependents {
		subNodes, subMask := sampleEdges(subRule, nodes, mask)
		store = append(store, subNodes, subMask)
		store = recursivelySampleEdges(subRule, subNodes, subMask, store)
	}
	return store
}

// sampleEdges samples up to rule.Count neighbors for each valid source node,
// padding where there are not enough.
func sampleEdges(rule *Rule, srcNodes, srcMask *tensors.Tensor) (nodes, mask *tensors.Tensor) {
	nodes = tensors.FromScalarAndDimensions(int32(PaddingIndex), rule.Shape.Dimensions...)
	mask = tensors.FromScalarAndDimensions(false, rule.Shape.Dimensions...)

	tensors.ConstFlatData[int32](srcNodes, func(srcNodesData []int32) {
		tensors.ConstFlatData[bool](srcMask, func(srcMaskData []bool) {
			tensors.MutableFlatData[int32](nodes, func(tgtNodesData []int32) {
				tensors.MutableFlatData[bool](mask, func(tgtMaskData []bool) {
					// Space for the sampled edge positions, reused across sources.
					sampledEdges := make([]int32, rule.Count)
					for fromIdx, fromValid := range srcMaskData {
						if !fromValid {
							continue
						}
						edges := rule.EdgeSet.TargetsForSource(srcNodesData[fromIdx])
						if len(edges) == 0 {
							continue
						}
						baseIdx := fromIdx * rule.Count
						if len(edges) <= rule.Count {
							// Not enough neighbors to sample, take them all.
							for ii, tgtNode := range edges {
								tgtNodesData[baseIdx+ii] = tgtNode
								tgtMaskData[baseIdx+ii] = true
							}
							continue
						}
						randKOfN(sampledEdges, len(edges))
						for ii, edgeIdx := range sampledEdges {
							tgtNodesData[baseIdx+ii] = edges[edgeIdx]
							tgtMaskData[baseIdx+ii] = true
						}
					}
				})
			})
		})
	})
	return
}

// randKOfN stores k random values without replacement out of `0..n-1` in
// `values`, with `k = len(values)`.
func randKOfN(values []int32, n int) {
	k := len(values)
	if k*k < n {
		randKOfNLinear(values, n)
	} else {
		randKOfNReservoir(values, n)
	}
}

// randKOfNLinear checks each draw against the previous ones: O(k^2), but
// faster than hashing for the small k used in fan-outs.
func randKOfNLinear(values []int32, n int) {
	for ii := range values {
		var x int32
	takeANumber:
		for {
			x = int32(rand.IntN(n))
			for jj := range ii {
				if values[jj] == x {
					continue takeANumber
				}
			}
			break
		}
		values[ii] = x
	}
}

func randKOfNReservoir(values []int32, n int) {
	k := len(values)
	for ii := range k {
		values[ii] = int32(ii)
	}
	for ii := k; ii < n; ii++ {
		pos := rand.IntN(ii + 1)
		if pos < k {
			values[pos] = int32(ii)
		}
	}
}

// startEpoch resets the position cursors and reshuffles where required.
func (ds *Dataset) startEpoch() {
	ds.startOfEpoch = false
	if ds.withReplacement {
		return
	}

	for ii := range ds.seedsPosition {
		ds.seedsPosition[ii] = 0
	}
	if !ds.shuffle {
		return
	}

	// First time only: reserve space for the shuffles of each seed rule.
	strategy := ds.strategy
	if ds.seedsShuffle == nil {
		ds.seedsShuffle = make([][]int32, len(ds.seedsPosition))
		for ii, rule := range strategy.Seeds {
			if rule.NodeSet != nil {
				ds.seedsShuffle[ii] = xslices.Copy(rule.NodeSet)
			} else {
				ds.seedsShuffle[ii] = xslices.Iota[int32](0, int(rule.NumNodes))
			}
		}
	}

	for _, shuffle := range ds.seedsShuffle {
		rand.Shuffle(len(shuffle), func(i, j int) {
			shuffle[i], shuffle[j] = shuffle[j], shuffle[i]
		})
	}
}

func (ds *Dataset) epochFinished() {
	ds.startOfEpoch = true
	ds.currentEpoch++
	if ds.numEpochs > 0 && ds.currentEpoch >= ds.numEpochs {
		ds.exhausted = true
	}
}

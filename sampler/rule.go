package sampler

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Rule is one node of the sampling strategy tree. Seed rules are created with
// [Strategy.Nodes] or [Strategy.NodesFromSet]; edge rules hang off another
// rule, created with [Rule.FromEdges].
type Rule struct {
	Sampler  *Sampler
	Strategy *Strategy

	// Name of the rule, unique within the strategy.
	Name string

	// SourceRule this rule samples from, or nil for seed rules.
	SourceRule *Rule

	// Dependents lists the edge rules that sample from this one, in creation
	// order -- the order of the tensors yielded by the datasets.
	Dependents []*Rule

	// EdgeSet sampled by this rule. Nil for seed rules.
	EdgeSet *EdgeSet

	// Count of samples: the batch size for seed rules, the fan-out (number of
	// neighbors sampled per source node) for edge rules.
	Count int

	// Shape of the tensor sampled for this rule: the source rule's dimensions
	// with Count appended (just [Count] for seed rules).
	Shape shapes.Shape

	// NodeSet restricts a seed rule to sample from these node indices.
	// Nil means all nodes.
	NodeSet []int32

	// NumNodes of the underlying graph.
	NumNodes int32
}

// IsSeed returns whether this is a seed (root) rule.
func (r *Rule) IsSeed() bool { return r.SourceRule == nil }

// String returns an informative description of the rule.
func (r *Rule) String() string {
	if r.IsSeed() {
		var nodeSetDesc string
		if r.NodeSet != nil {
			nodeSetDesc = fmt.Sprintf(", nodeSet.size=%d", len(r.NodeSet))
		}
		return fmt.Sprintf("Rule %q: seeds, shape=%s%s", r.Name, r.Shape, nodeSetDesc)
	}
	return fmt.Sprintf("Rule %q: edges, shape=%s, sourceRule=%q, edgeSet=%q",
		r.Name, r.Shape, r.SourceRule.Name, r.EdgeSet.Name)
}

// FromEdges returns a new [Rule] (named `name`) that samples `count` neighbors
// for each node sampled by `r`, following the edges of the edge set named
// `edgeSetName`.
//
// The new rule's shape is the source rule's shape with an extra trailing axis
// of dimension `count`. Sources with fewer than `count` neighbors are padded
// (see [PaddingIndex]) and marked false in the mask.
func (r *Rule) FromEdges(name, edgeSetName string, count int) *Rule {
	strategy := r.Strategy
	if strategy.frozen {
		Panicf("Strategy is frozen: a dataset was already created with NewDataset(), it can no longer be modified")
	}
	if prevRule, found := strategy.Rules[name]; found {
		Panicf("rule named %q already exists: %s", name, prevRule)
	}
	edgeSet, found := r.Sampler.EdgeSets[edgeSetName]
	if !found {
		Panicf("unknown edge set %q for rule %q, sampler has: %s", edgeSetName, name, r.Sampler)
	}
	if count <= 0 {
		Panicf("edge rule %q must sample count > 0 neighbors, got %d", name, count)
	}
	newDims := make([]int, 0, r.Shape.Rank()+1)
	newDims = append(newDims, r.Shape.Dimensions...)
	newDims = append(newDims, count)
	newRule := &Rule{
		Sampler:    r.Sampler,
		Strategy:   strategy,
		Name:       name,
		SourceRule: r,
		EdgeSet:    edgeSet,
		Count:      count,
		NumNodes:   r.NumNodes,
		Shape:      shapes.Make(dtypes.Int32, newDims...),
	}
	r.Dependents = append(r.Dependents, newRule)
	strategy.Rules[name] = newRule
	return newRule
}

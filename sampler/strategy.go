package sampler

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Strategy is created with [Sampler.NewStrategy]. A [Sampler] can create
// multiple strategies, e.g. one for training and one for evaluation, with
// different batch sizes and seed sets.
//
// After creation one defines what to sample by creating a tree of rules:
// seed rules first (see [Strategy.Nodes] and [Strategy.NodesFromSet]), then
// edge rules hanging from them (see [Rule.FromEdges]).
//
// Once a dataset is created from the strategy, the strategy is frozen and can
// no longer be changed.
type Strategy struct {
	Sampler *Sampler

	// Rules maps rule names to rules. It includes the seed rules.
	Rules map[string]*Rule

	// Seeds lists the seed rules, in the order they were created. This order
	// defines the order of the tensors yielded by the datasets.
	Seeds []*Rule

	frozen bool
}

// String returns a multi-line informative description of the strategy.
func (strategy *Strategy) String() string {
	parts := make([]string, 0, 1+len(strategy.Rules))
	var frozenDesc string
	if strategy.frozen {
		frozenDesc = ", frozen"
	}
	parts = append(parts, fmt.Sprintf("Sampling strategy: (%d rules%s)", len(strategy.Rules), frozenDesc))
	for _, rule := range strategy.Seeds {
		parts = appendRulesRecursively(parts, rule, 0)
	}
	return strings.Join(parts, "\n")
}

func appendRulesRecursively(parts []string, rule *Rule, indent int) []string {
	parts = append(parts, fmt.Sprintf("%s> %s", strings.Repeat("  ", indent), rule))
	indent++
	for _, subRule := range rule.Dependents {
		parts = appendRulesRecursively(parts, subRule, indent)
	}
	return parts
}

// Nodes creates a seed rule (named `name`) that samples `count` nodes without
// replacement from all the nodes of the graph.
//
// If this is used to sample the seed nodes of a batch, `count` is typically
// the batch size.
func (strategy *Strategy) Nodes(name string, count int) *Rule {
	return strategy.addSeedRule(name, count, nil)
}

// NodesFromSet creates a seed rule (named `name`) that samples `count` nodes
// without replacement from `nodeSet`, a list of valid node indices -- e.g.
// the train split.
func (strategy *Strategy) NodesFromSet(name string, count int, nodeSet []int32) *Rule {
	if len(nodeSet) == 0 {
		Panicf("empty nodeSet for seed rule %q", name)
	}
	return strategy.addSeedRule(name, count, nodeSet)
}

func (strategy *Strategy) addSeedRule(name string, count int, nodeSet []int32) *Rule {
	if strategy.frozen {
		Panicf("Strategy is frozen: a dataset was already created with NewDataset(), it can no longer be modified")
	}
	if prevRule, found := strategy.Rules[name]; found {
		Panicf("rule named %q already exists: %s", name, prevRule)
	}
	if count <= 0 {
		Panicf("seed rule %q must sample count > 0 nodes, got %d", name, count)
	}
	r := &Rule{
		Sampler:  strategy.Sampler,
		Strategy: strategy,
		Name:     name,
		Count:    count,
		NumNodes: strategy.Sampler.NumNodes,
		NodeSet:  nodeSet,
		Shape:    shapes.Make(dtypes.Int32, count),
	}
	strategy.Rules[name] = r
	strategy.Seeds = append(strategy.Seeds, r)
	return r
}

package sampler

import (
	. "github.com/gomlx/exceptions"
)

// ValueMask pairs a sampled value with its boolean mask of the same
// dimensions -- false entries are padding. The type parameter is typically
// *tensors.Tensor on the data side, or *graph.Node inside a model graph.
type ValueMask[T any] struct {
	Value, Mask T
}

// MapInputsToStates organizes the flat inputs yielded by a [Dataset] (or
// their graph nodes, inside a model function) into a map of rule name to
// [ValueMask], following the strategy's traversal order. Extra inputs beyond
// the strategy's rules are returned in `remaining`.
func MapInputsToStates[T any](strategy *Strategy, inputs []T) (states map[string]*ValueMask[T], remaining []T) {
	needed := 2 * len(strategy.Rules)
	if len(inputs) < needed {
		Panicf("strategy has %d rules and needs %d inputs (a value and a mask per rule), got only %d",
			len(strategy.Rules), needed, len(inputs))
	}
	states = make(map[string]*ValueMask[T], len(strategy.Rules))
	pos := 0
	var recursively func(rule *Rule)
	recursively = func(rule *Rule) {
		states[rule.Name] = &ValueMask[T]{Value: inputs[pos], Mask: inputs[pos+1]}
		pos += 2
		for _, subRule := range rule.Dependents {
			recursively(subRule)
		}
	}
	for _, seedsRule := range strategy.Seeds {
		recursively(seedsRule)
	}
	return states, inputs[pos:]
}

package aggregate

import (
	"fmt"
	"slices"

	"github.com/huangsam/orgpulse/schema"
)

// order returns calculators so that every calculator follows its dependencies.
// Ties keep registration order. Dependencies on scopes that are not registered are an error.
func order(calcs []Calculator) ([]Calculator, error) {
	index := make(map[schema.Scope]int, len(calcs))
	for i, c := range calcs {
		if _, dup := index[c.Scope()]; dup {
			return nil, fmt.Errorf("calculator %s registered twice", c.Scope())
		}
		index[c.Scope()] = i
	}

	indegree := make([]int, len(calcs))
	dependents := make([][]int, len(calcs))
	for i, c := range calcs {
		for _, dep := range c.DependsOn() {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("calculator %s depends on unknown calculator %s", c.Scope(), dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range calcs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]Calculator, 0, len(calcs))
	for len(ready) > 0 {
		slices.Sort(ready)
		i := ready[0]
		ready = ready[1:]
		out = append(out, calcs[i])
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(out) != len(calcs) {
		return nil, fmt.Errorf("calculator dependencies contain a cycle")
	}
	return out, nil
}

// selectScope narrows an ordered plan to one scope, or keeps it whole for AllScope.
func selectScope(plan []Calculator, scope schema.Scope) ([]Calculator, error) {
	if scope == "" || scope == schema.AllScope {
		return plan, nil
	}
	for _, c := range plan {
		if c.Scope() == scope {
			return []Calculator{c}, nil
		}
	}
	return nil, fmt.Errorf("no calculator for scope %s", scope)
}

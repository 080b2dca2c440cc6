package assignment

import "fmt"

// BlockingPair is an agent and a target that both prefer each other over
// their partners in some matching.
type BlockingPair struct {
	Agent  int `json:"agent"`
	Target int `json:"target"`
}

// BlockingPairs reports every pair that blocks agentTarget (agent index to
// target index). An empty result means the matching is stable. Preferences
// are ranked exactly as Solve ranks them, ties included.
func BlockingPairs(agents, targets []Point, agentTarget []int) ([]BlockingPair, error) {
	if err := Validate(agents, targets); err != nil {
		return nil, err
	}
	n := len(agents)
	if len(agentTarget) != n {
		return nil, fmt.Errorf("%w: matching covers %d agents, want %d", ErrInvalidInput, len(agentTarget), n)
	}
	holder := make([]int, n)
	for t := range holder {
		holder[t] = free
	}
	for a, t := range agentTarget {
		if t < 0 || t >= n || holder[t] != free {
			return nil, fmt.Errorf("%w: matching is not a permutation", ErrInvalidInput)
		}
		holder[t] = a
	}

	agentRank := inverse(rank(agents, targets))
	targetRank := inverse(rank(targets, agents))

	var pairs []BlockingPair
	for a := 0; a < n; a++ {
		for t := 0; t < n; t++ {
			if t == agentTarget[a] {
				continue
			}
			if agentRank[a][t] < agentRank[a][agentTarget[a]] && targetRank[t][a] < targetRank[t][holder[t]] {
				pairs = append(pairs, BlockingPair{Agent: a, Target: t})
			}
		}
	}
	return pairs, nil
}

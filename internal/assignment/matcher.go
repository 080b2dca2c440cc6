package assignment

import (
	"fmt"
)

const free = -1

// Matching is the outcome of one Solve call.
type Matching struct {
	// AgentTarget maps agent index to target index.
	AgentTarget []int `json:"agent_target"`
	// Proposals counts every proposal made, accepted or not.
	Proposals int `json:"proposals"`
	// Rejections counts proposals turned down by a better-placed incumbent.
	Rejections int `json:"rejections"`
	// Displacements counts incumbents bumped by a closer proposer.
	Displacements int `json:"displacements"`
	// TotalCost is the summed agent-to-target distance.
	TotalCost float64 `json:"total_cost"`
}

// Solve runs agent-proposing deferred acceptance over the instance and
// returns the agent-optimal stable matching.
func Solve(agents, targets []Point) (*Matching, error) {
	if err := Validate(agents, targets); err != nil {
		return nil, err
	}
	m, err := propose(rank(agents, targets), inverse(rank(targets, agents)))
	if err != nil {
		return nil, err
	}
	for a, t := range m.AgentTarget {
		m.TotalCost += Distance(agents[a], targets[t])
	}
	return m, nil
}

// propose is the deferred-acceptance loop. agentPrefs[a] lists targets in
// a's order of preference; targetRank[t][a] is a's position in t's list.
// Agents wait in a FIFO queue; a rejected agent keeps its place at the head
// and proposes to its next choice on the following turn.
func propose(agentPrefs, targetRank [][]int) (*Matching, error) {
	n := len(agentPrefs)
	next := make([]int, n)
	matches := make([]int, len(targetRank))
	for t := range matches {
		matches[t] = free
	}
	unmatched := make([]int, n)
	for a := range unmatched {
		unmatched[a] = a
	}

	m := &Matching{}
	for len(unmatched) > 0 {
		agent := unmatched[0]
		if next[agent] >= len(agentPrefs[agent]) {
			return nil, fmt.Errorf("%w: agent %d has no target left to propose to", ErrMatchingExhausted, agent+1)
		}
		target := agentPrefs[agent][next[agent]]
		next[agent]++
		m.Proposals++

		incumbent := matches[target]
		switch {
		case incumbent == free:
			matches[target] = agent
			unmatched = unmatched[1:]
		case targetRank[target][agent] < targetRank[target][incumbent]:
			matches[target] = agent
			unmatched = append(unmatched[1:], incumbent)
			m.Displacements++
		default:
			m.Rejections++
		}
	}

	m.AgentTarget = make([]int, n)
	for t, a := range matches {
		if a != free {
			m.AgentTarget[a] = t
		}
	}
	return m, nil
}

// Positions formats the matching as agent identifier (index+1) to the
// assigned target position.
func (m *Matching) Positions(targets []Point) map[int]Point {
	out := make(map[int]Point, len(m.AgentTarget))
	for a, t := range m.AgentTarget {
		out[a+1] = targets[t]
	}
	return out
}

// Assign matches agents to targets and returns agent identifier (1-based)
// to assigned target position.
func Assign(agents, targets []Point) (map[int]Point, error) {
	m, err := Solve(agents, targets)
	if err != nil {
		return nil, err
	}
	return m.Positions(targets), nil
}

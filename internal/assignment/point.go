// Package assignment matches mobile agents to formation slots with the
// agent-proposing Gale–Shapley algorithm. Both sides rank the other by
// Euclidean distance, so the result is the stable matching in which every
// agent gets the closest slot it can hold on to.
package assignment

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a 2D position on the field.
type Point struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// MarshalJSON encodes a point as a two-element array, the shape robot
// controllers already send positions in.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts either [x, y] or {"x": .., "y": ..}.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	var obj struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding point: %w", err)
	}
	if obj.X == nil || obj.Y == nil {
		return fmt.Errorf("point object requires both x and y")
	}
	p.X, p.Y = *obj.X, *obj.Y
	return nil
}

// MarshalYAML mirrors MarshalJSON so formation files read naturally.
func (p Point) MarshalYAML() (any, error) {
	return []float64{p.X, p.Y}, nil
}

// UnmarshalYAML decodes a [x, y] sequence.
func (p *Point) UnmarshalYAML(unmarshal func(any) error) error {
	var pair []float64
	if err := unmarshal(&pair); err != nil {
		return fmt.Errorf("decoding point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

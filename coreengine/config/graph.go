package config

import (
	"fmt"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// EdgeLimit caps how many times one transition may be taken in a turn.
type EdgeLimit struct {
	From     string `json:"from"`
	To       string `json:"to"`
	MaxCount int    `json:"max_count"`
}

// GraphConfig bounds the workflow graph of one turn.
type GraphConfig struct {
	Name          string      `json:"name"`
	MaxIterations int         `json:"max_iterations"` // Evaluator retries
	MaxHops       int         `json:"max_hops"`       // Node executions per turn
	EdgeLimits    []EdgeLimit `json:"edge_limits"`

	edgeLimitMap map[string]int
}

// NewGraphConfig returns the bounds for a turn allowing maxIterations retries.
// The retry edge evaluate->retrieve is capped at maxIterations and the hop
// budget covers the longest legal path plus one retrieval loop per retry.
// maxIterations is clamped to [0, envelope.MaxIterationsLimit].
func NewGraphConfig(name string, maxIterations int) *GraphConfig {
	maxIterations = envelope.ClampIterations(maxIterations)
	return &GraphConfig{
		Name:          name,
		MaxIterations: maxIterations,
		MaxHops:       9 + 4*maxIterations,
		EdgeLimits: []EdgeLimit{
			{From: "evaluate", To: "retrieve", MaxCount: maxIterations},
		},
	}
}

// Validate checks bounds and indexes edge limits.
func (g *GraphConfig) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("GraphConfig.Name is required")
	}
	if g.MaxIterations < 0 {
		return fmt.Errorf("graph '%s' max_iterations must be >= 0", g.Name)
	}
	if g.MaxHops <= 0 {
		return fmt.Errorf("graph '%s' max_hops must be > 0", g.Name)
	}

	g.edgeLimitMap = make(map[string]int, len(g.EdgeLimits))
	for _, limit := range g.EdgeLimits {
		if limit.From == "" || limit.To == "" {
			return fmt.Errorf("graph '%s' has an edge limit without endpoints", g.Name)
		}
		if limit.MaxCount < 0 {
			return fmt.Errorf("edge limit %s->%s must be >= 0", limit.From, limit.To)
		}
		g.edgeLimitMap[limit.From+"->"+limit.To] = limit.MaxCount
	}
	return nil
}

// GetEdgeLimit returns the cap for a transition and whether one is set.
func (g *GraphConfig) GetEdgeLimit(from, to string) (int, bool) {
	if g.edgeLimitMap == nil {
		for _, limit := range g.EdgeLimits {
			if limit.From == from && limit.To == to {
				return limit.MaxCount, true
			}
		}
		return 0, false
	}
	limit, ok := g.edgeLimitMap[from+"->"+to]
	return limit, ok
}

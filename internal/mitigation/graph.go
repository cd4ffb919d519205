package mitigation

import (
	"sort"
	"time"
)

// Smoothing constants for node importance and threat score.
const (
	weightKeep  = 0.95
	weightBlend = 0.05
	threatKeep  = 0.7
	threatBlend = 0.3
)

// SourceNode is one vertex of the RelationshipGraph.
type SourceNode struct {
	ID          string
	Weight      float64
	ThreatScore float64
	Connections map[string]struct{}
	FirstSeen   time.Time
	LastSeen    time.Time
}

// RelationshipGraph tracks per-source importance and co-activity links.
// Nodes are created on first sighting and smoothed on every update. Not safe
// for concurrent use; the engine's lock guards it.
type RelationshipGraph struct {
	nodes map[string]*SourceNode
}

// NewRelationshipGraph creates an empty graph.
func NewRelationshipGraph() *RelationshipGraph {
	return &RelationshipGraph{nodes: make(map[string]*SourceNode)}
}

// Observe upserts the node for the source. Weight and threat score are
// seeded from the first observed score and exponentially smoothed afterward.
func (g *RelationshipGraph) Observe(sourceID string, score float64, now time.Time) *SourceNode {
	node := g.nodes[sourceID]
	if node == nil {
		node = &SourceNode{
			ID:          sourceID,
			Weight:      score,
			ThreatScore: score,
			Connections: make(map[string]struct{}),
			FirstSeen:   now,
			LastSeen:    now,
		}
		g.nodes[sourceID] = node
		return node
	}
	node.Weight = node.Weight*weightKeep + score*weightBlend
	node.ThreatScore = node.ThreatScore*threatKeep + score*threatBlend
	node.LastSeen = now
	return node
}

// Connect links two sources bidirectionally. Self-links are ignored.
func (g *RelationshipGraph) Connect(a, b string) {
	if a == b {
		return
	}
	na, nb := g.nodes[a], g.nodes[b]
	if na == nil || nb == nil {
		return
	}
	na.Connections[b] = struct{}{}
	nb.Connections[a] = struct{}{}
}

// Node returns the node for the source, or nil.
func (g *RelationshipGraph) Node(sourceID string) *SourceNode {
	return g.nodes[sourceID]
}

// Len returns the number of nodes.
func (g *RelationshipGraph) Len() int { return len(g.nodes) }

// AvgConnections returns the mean connection count across nodes.
func (g *RelationshipGraph) AvgConnections() float64 {
	if len(g.nodes) == 0 {
		return 0
	}
	total := 0
	for _, node := range g.nodes {
		total += len(node.Connections)
	}
	return float64(total) / float64(len(g.nodes))
}

// NodeStat is a diagnostic view of one node.
type NodeStat struct {
	SourceID    string  `json:"source_id"`
	Weight      float64 `json:"weight"`
	ThreatScore float64 `json:"threat_score"`
	Connections int     `json:"connections"`
}

// TopWeighted returns up to k nodes ordered by descending weight.
func (g *RelationshipGraph) TopWeighted(k int) []NodeStat {
	stats := make([]NodeStat, 0, len(g.nodes))
	for _, node := range g.nodes {
		stats = append(stats, NodeStat{
			SourceID:    node.ID,
			Weight:      node.Weight,
			ThreatScore: node.ThreatScore,
			Connections: len(node.Connections),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Weight > stats[j].Weight })
	if k > 0 && len(stats) > k {
		stats = stats[:k]
	}
	return stats
}

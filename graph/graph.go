//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package graph defines the workflow data model: a directed acyclic graph of
// typed nodes, the payload value that flows along edges, and the scheduling
// helpers (level peeling, subgraph extraction) the runner builds on.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeKind discriminates the node configuration record and executor.
type NodeKind string

// The eleven node kinds.
const (
	NodeKindInput    NodeKind = "input"
	NodeKindTemplate NodeKind = "template"
	NodeKindAgent    NodeKind = "agent"
	NodeKindMerge    NodeKind = "merge"
	NodeKindJudge    NodeKind = "judge"
	NodeKindSwitch   NodeKind = "switch"
	NodeKindExtract  NodeKind = "extract"
	NodeKindInvoke   NodeKind = "invoke"
	NodeKindForEach  NodeKind = "foreach"
	NodeKindState    NodeKind = "state"
	NodeKindOutput   NodeKind = "output"
)

// ErrCycle is returned when level peeling cannot consume every node.
var ErrCycle = errors.New("graph: cycle detected")

// Node is a unit of computation with a kind-specific configuration record.
// Nodes are referred to by ID throughout execution and do not own each other.
type Node struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Label  string          `json:"label,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Edge is a directed dependency between nodes. SourceHandle names the output
// port on switch nodes; it is empty everywhere else.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Key returns the identifier used in disabled-edge sets. Graphs authored
// without explicit edge IDs fall back to a synthetic endpoint key.
func (e *Edge) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Source + "->" + e.Target + "#" + e.SourceHandle
}

// Graph is an immutable set of nodes and edges. It is read-only once
// submitted for execution; the runner holds a shared reference.
type Graph struct {
	ID    string `json:"id,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given ID.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// InEdges returns the edges targeting nodeID in graph order.
func (g *Graph) InEdges(nodeID string) []*Edge {
	var edges []*Edge
	for i := range g.Edges {
		if g.Edges[i].Target == nodeID {
			edges = append(edges, &g.Edges[i])
		}
	}
	return edges
}

// OutEdges returns the edges originating at nodeID in graph order.
func (g *Graph) OutEdges(nodeID string) []*Edge {
	var edges []*Edge
	for i := range g.Edges {
		if g.Edges[i].Source == nodeID {
			edges = append(edges, &g.Edges[i])
		}
	}
	return edges
}

// Validate checks that every edge references existing nodes and that the
// graph is acyclic.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		if g.Nodes[i].ID == "" {
			return fmt.Errorf("graph: node %d has empty ID", i)
		}
		if ids[g.Nodes[i].ID] {
			return fmt.Errorf("graph: duplicate node ID %s", g.Nodes[i].ID)
		}
		ids[g.Nodes[i].ID] = true
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		if !ids[e.Source] {
			return fmt.Errorf("graph: edge %s references missing source %s", e.Key(), e.Source)
		}
		if !ids[e.Target] {
			return fmt.Errorf("graph: edge %s references missing target %s", e.Key(), e.Target)
		}
	}
	if _, err := g.Levels(); err != nil {
		return err
	}
	return nil
}

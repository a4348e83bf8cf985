//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package graph

// Levels computes the dependency levels of the graph by Kahn-style peeling:
// nodes with in-degree zero form level 0, removing them reveals level 1, and
// so on. Edges referencing nonexistent nodes are ignored. If any node is left
// with positive in-degree after peeling terminates, the graph has a cycle and
// ErrCycle is returned.
func (g *Graph) Levels() ([][]string, error) {
	ids := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		ids[g.Nodes[i].ID] = true
	}

	indegree := make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		indegree[g.Nodes[i].ID] = 0
	}
	out := make(map[string][]string)
	for i := range g.Edges {
		e := &g.Edges[i]
		if !ids[e.Source] || !ids[e.Target] {
			continue
		}
		indegree[e.Target]++
		out[e.Source] = append(out[e.Source], e.Target)
	}

	var current []string
	for i := range g.Nodes {
		if indegree[g.Nodes[i].ID] == 0 {
			current = append(current, g.Nodes[i].ID)
		}
	}

	var levels [][]string
	consumed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		consumed += len(current)
		var next []string
		for _, id := range current {
			for _, target := range out[id] {
				indegree[target]--
				if indegree[target] == 0 {
					next = append(next, target)
				}
			}
		}
		current = next
	}

	if consumed != len(g.Nodes) {
		return nil, ErrCycle
	}
	return levels, nil
}

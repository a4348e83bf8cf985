//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package graph

// Subgraph derives the graph induced by the strict successors of root: every
// node reachable from root excluding root itself, and the edges with both
// endpoints inside that set. Shared upstreams of the successors are not
// replicated; a child execution that needs the parent's upstream payload must
// receive it as its global input.
func (g *Graph) Subgraph(root string) *Graph {
	successors := make(map[string]bool)
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.OutEdges(id) {
			if !successors[e.Target] {
				successors[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	sub := &Graph{ID: g.ID + ":" + root}
	for i := range g.Nodes {
		if successors[g.Nodes[i].ID] {
			sub.Nodes = append(sub.Nodes, g.Nodes[i])
		}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		if successors[e.Source] && successors[e.Target] {
			sub.Edges = append(sub.Edges, *e)
		}
	}
	return sub
}

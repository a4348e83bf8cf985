//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/log"
)

// templateConfig configures a template node.
type templateConfig struct {
	Template string `json:"template"`
	Format   string `json:"format,omitempty"`
}

var templateRef = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// execTemplate renders {{name.path}} references against the upstream nodes
// (addressed by label, ID as fallback) and the state namespaces. An
// unresolvable reference renders empty. format=json additionally parses the
// rendered text; a parse failure is fatal for the node.
func execTemplate(_ context.Context, r *Runner, node *graph.Node, _ []graph.NodePayload) (*execResult, error) {
	var cfg templateConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	scope := r.templateScope(node.ID)
	rendered := templateRef.ReplaceAllStringFunc(cfg.Template, func(ref string) string {
		expr := strings.TrimSpace(templateRef.FindStringSubmatch(ref)[1])
		value, ok := resolveRef(scope, expr)
		if !ok {
			log.Debugf("run %s: node %s: unresolved template reference %q", r.id, node.ID, expr)
			return ""
		}
		return value
	})

	payload := graph.NewPayload(rendered)
	if cfg.Format == "json" {
		parsed, err := parseModelJSON(rendered)
		if err != nil {
			return nil, fmt.Errorf("node %s: rendered template is not JSON: %w", node.ID, err)
		}
		payload.JSON = parsed
	}
	return &execResult{payload: payload}, nil
}

// templateScope builds the reference scope: each completed upstream node under
// its label (and ID), plus every state namespace under "state".
func (r *Runner) templateScope(nodeID string) map[string]any {
	scope := map[string]any{"state": r.memory.Snapshot()}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.graph.InEdges(nodeID) {
		res, ok := r.results[e.Source]
		if !ok || res.status != statusCompleted {
			continue
		}
		src, ok := r.graph.NodeByID(e.Source)
		if !ok {
			continue
		}
		entry := map[string]any{"text": res.payload.Text}
		if res.payload.JSON != nil {
			entry["json"] = res.payload.JSON
		}
		if src.Label != "" {
			scope[src.Label] = entry
		}
		scope[src.ID] = entry
	}
	return scope
}

// resolveRef walks a dotted reference through the scope. A bare name resolves
// to the upstream's text; deeper paths walk the upstream's json (or the state
// value) with gjson path syntax.
func resolveRef(scope map[string]any, expr string) (string, bool) {
	name, path, _ := strings.Cut(expr, ".")
	root, ok := scope[name]
	if !ok {
		return "", false
	}

	if entry, isNode := root.(map[string]any); isNode && name != "state" {
		if path == "" || path == "text" {
			text, _ := entry["text"].(string)
			return text, true
		}
		if inner, ok := entry[path]; ok {
			return stringify(inner), true
		}
		doc, ok := entry["json"]
		if !ok {
			return "", false
		}
		return lookupPath(doc, path)
	}

	if path == "" {
		return stringify(root), true
	}
	return lookupPath(root, path)
}

func lookupPath(doc any, path string) (string, bool) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

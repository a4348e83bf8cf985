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

	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/log"
)

// switchRule is one routing condition. regex rules test the merged input
// text; fieldMatch rules walk the input's json with a dotted path and compare
// the string form against valueMatch.
type switchRule struct {
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	Condition  string `json:"condition"`
	ValueMatch string `json:"valueMatch,omitempty"`
}

type switchConfig struct {
	Rules []switchRule `json:"rules"`
}

// execSwitch evaluates every rule, then disables each out-edge whose handle
// is not among the matching rule IDs. No match at all halts the whole branch
// set downstream of this node.
func execSwitch(_ context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg switchConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	text := joinInputTexts(inputs)
	var doc []byte
	for _, in := range inputs {
		if in.JSON == nil {
			continue
		}
		raw, err := json.Marshal(in.JSON)
		if err == nil {
			doc = raw
			break
		}
	}

	matched := make(map[string]bool)
	for _, rule := range cfg.Rules {
		switch rule.Mode {
		case "regex":
			re, err := regexp.Compile(rule.Condition)
			if err != nil {
				log.Warnf("run %s: node %s: invalid regex in rule %s: %v", r.id, node.ID, rule.ID, err)
				continue
			}
			if re.MatchString(text) {
				matched[rule.ID] = true
			}
		case "fieldMatch":
			if doc == nil {
				continue
			}
			res := gjson.GetBytes(doc, rule.Condition)
			if res.Exists() && res.String() == rule.ValueMatch {
				matched[rule.ID] = true
			}
		default:
			log.Warnf("run %s: node %s: unknown rule mode %q in rule %s", r.id, node.ID, rule.Mode, rule.ID)
		}
	}

	var disable []string
	routed := 0
	for _, e := range r.graph.OutEdges(node.ID) {
		if matched[e.SourceHandle] {
			routed++
			continue
		}
		disable = append(disable, e.Key())
	}

	if len(matched) == 0 {
		return &execResult{
			payload:      graph.NewPayload(textHaltedNoMatch),
			disableEdges: disable,
		}, nil
	}
	return &execResult{
		payload:      graph.NewPayload(fmt.Sprintf("Flow routed to %d branches", routed)),
		disableEdges: disable,
	}, nil
}

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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/clawdini/graph"
)

func TestMemoryModes(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Apply("ns", "replace", map[string]any{"a": 1}))
	require.NoError(t, m.Apply("ns", "merge", map[string]any{"b": 2}))
	v, ok := m.Get("ns")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, v)

	// Merging a non-object replaces.
	require.NoError(t, m.Apply("ns", "merge", "scalar"))
	v, _ = m.Get("ns")
	assert.Equal(t, "scalar", v)

	require.NoError(t, m.Apply("list", "append", "x"))
	require.NoError(t, m.Apply("list", "append", "y"))
	v, _ = m.Get("list")
	assert.Equal(t, []any{"x", "y"}, v)

	assert.Error(t, m.Apply("ns", "bogus", nil))
}

func TestStateThenTemplate(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "in", Kind: graph.NodeKindInput, Label: "seed",
				Config: mustConfig(t, map[string]string{"prompt": `{"topic":"go","depth":3}`})},
			{ID: "st", Kind: graph.NodeKindState,
				Config: mustConfig(t, map[string]string{"namespace": "plan", "mode": "replace"})},
			{ID: "tp", Kind: graph.NodeKindTemplate,
				Config: mustConfig(t, map[string]string{"template": "topic={{state.plan.topic}} depth={{state.plan.depth}}"})},
		},
		Edges: []graph.Edge{
			{Source: "in", Target: "st"},
			{Source: "st", Target: "tp"},
		},
	}

	r, sink := runGraph(t, g, newFakeGW(), Options{})

	require.Len(t, sink.ofType(EventRunCompleted), 1)
	assert.Empty(t, sink.ofType(EventNodeError))
	payload, ok := r.Result("tp")
	require.True(t, ok)
	assert.Equal(t, "topic=go depth=3", payload.Text)
}

func TestTemplateUpstreamByLabel(t *testing.T) {
	r := New("run-t", &graph.Graph{
		Nodes: []graph.Node{
			{ID: "n1", Kind: graph.NodeKindInput, Label: "draft"},
			{ID: "tp", Kind: graph.NodeKindTemplate},
		},
		Edges: []graph.Edge{{Source: "n1", Target: "tp"}},
	}, newFakeGW(), &recorder{}, Options{SettleDelay: -1})

	payload := graph.NewPayload("the draft body")
	payload.JSON = map[string]any{"title": "Draft One"}
	r.results["n1"] = &nodeResult{payload: payload, status: statusCompleted}

	node, _ := r.graph.NodeByID("tp")
	node.Config = mustConfig(t, map[string]string{
		"template": "t={{draft}} | title={{draft.title}} | missing={{nope.x}}",
	})
	res, err := execTemplate(context.Background(), r, node, nil)
	require.NoError(t, err)
	assert.Equal(t, "t=the draft body | title=Draft One | missing=", res.payload.Text)
}

func TestTemplateJSONFormatFatalOnBadOutput(t *testing.T) {
	r := New("run-t", &graph.Graph{
		Nodes: []graph.Node{{ID: "tp", Kind: graph.NodeKindTemplate}},
	}, newFakeGW(), &recorder{}, Options{SettleDelay: -1})

	node, _ := r.graph.NodeByID("tp")
	node.Config = mustConfig(t, map[string]string{"template": "definitely not json", "format": "json"})
	_, err := execTemplate(context.Background(), r, node, nil)
	assert.Error(t, err)
}

func TestMergeLLMEdgeCounts(t *testing.T) {
	r := New("run-m", &graph.Graph{
		Nodes: []graph.Node{{ID: "m", Kind: graph.NodeKindMerge}},
	}, newFakeGW(), &recorder{}, Options{SettleDelay: -1})
	node, _ := r.graph.NodeByID("m")
	node.Config = mustConfig(t, map[string]string{"mode": "llm"})

	// Zero inputs produce an empty payload without touching the gateway.
	res, err := execMerge(context.Background(), r, node, nil)
	require.NoError(t, err)
	assert.Equal(t, "", res.payload.Text)

	// A single input passes through unchanged.
	single := graph.NewPayload("only one")
	single.Meta["agentId"] = "a1"
	res, err = execMerge(context.Background(), r, node, []graph.NodePayload{single})
	require.NoError(t, err)
	assert.Equal(t, single, res.payload)
}

func TestMergeLLMSynthesizes(t *testing.T) {
	gw := newFakeGW()
	var prompt string
	gw.reply = func(_, message string) string {
		prompt = message
		return "synthesized"
	}

	r := New("run-m", &graph.Graph{
		Nodes: []graph.Node{{ID: "m", Kind: graph.NodeKindMerge}},
	}, gw, &recorder{}, Options{SettleDelay: -1})
	node, _ := r.graph.NodeByID("m")
	node.Config = mustConfig(t, map[string]string{"mode": "llm", "prompt": "Combine: {inputs}"})

	res, err := execMerge(context.Background(), r, node, []graph.NodePayload{
		graph.NewPayload("A"), graph.NewPayload("B"),
	})
	require.NoError(t, err)
	assert.Equal(t, "synthesized", res.payload.Text)

	// The {INPUTS} token is replaced case-insensitively with numbered blocks.
	assert.Contains(t, prompt, "Combine: === Source 1 ===\nA\n")
	assert.Contains(t, prompt, "=== Source 2 ===\nB\n")
}

func TestMergePromptKeepsDollarSequences(t *testing.T) {
	gw := newFakeGW()
	var prompt string
	gw.reply = func(_, message string) string {
		prompt = message
		return "ok"
	}

	r := New("run-m", &graph.Graph{
		Nodes: []graph.Node{{ID: "m", Kind: graph.NodeKindMerge}},
	}, gw, &recorder{}, Options{SettleDelay: -1})
	node, _ := r.graph.NodeByID("m")
	node.Config = mustConfig(t, map[string]string{"mode": "llm"})

	// Dollar sequences in upstream text must reach the model verbatim, not
	// get expanded as regexp group references.
	_, err := execMerge(context.Background(), r, node, []graph.NodePayload{
		graph.NewPayload("price is $100 and ref $1"),
		graph.NewPayload("see ${name} for details"),
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "price is $100 and ref $1")
	assert.Contains(t, prompt, "see ${name} for details")
}

func TestExecutorRegistryCoversAllKinds(t *testing.T) {
	kinds := []graph.NodeKind{
		graph.NodeKindInput, graph.NodeKindTemplate, graph.NodeKindAgent,
		graph.NodeKindMerge, graph.NodeKindJudge, graph.NodeKindSwitch,
		graph.NodeKindExtract, graph.NodeKindInvoke, graph.NodeKindForEach,
		graph.NodeKindState, graph.NodeKindOutput,
	}
	require.Len(t, executors, len(kinds))
	for _, kind := range kinds {
		assert.NotNil(t, executors[kind], "no executor for %s", kind)
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
	assert.Equal(t, "plain text", stripFences("plain text"))
}

func TestParseModelJSONRepairsDamage(t *testing.T) {
	v, err := parseModelJSON(`{"a": 1,}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	v, err = parseModelJSON(`{'a': 'b'}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, v)

	_, err = parseModelJSON("no json at all")
	assert.Error(t, err)
}

func TestSessionKeyShape(t *testing.T) {
	key := sessionKey("echo", purposeChat, "r1", "n1")
	assert.Equal(t, "agent:echo:clawdini:r1:n1", key)
}

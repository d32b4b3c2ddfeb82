// Package graph defines the node-graph job description submitted to the
// rendering engine, plus the canonical renaming pass that keeps node ids
// stable across semantically identical jobs.
package graph

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Graph maps node id to node. Every reference inside a node's inputs is
// expected to resolve to another id in the same graph; the engine rejects
// graphs that violate this, so it is not re-checked here.
type Graph map[string]*Node

// Node is a single operation in the graph. Inputs hold either literal
// values or references to other nodes.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Parse decodes a graph from its JSON wire form. Numbers decode as
// json.Number, not float64: sampler seeds are full 64-bit integers and
// must reach the engine with every digit intact.
func Parse(data []byte) (Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var g Graph
	if err := dec.Decode(&g); err != nil {
		return nil, err
	}
	return g, nil
}

// IDs returns the node ids in sorted order. Map iteration is randomized,
// so logs and error lists built from a graph go through here.
func (g Graph) IDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reference decomposes an input value of the wire shape [nodeID, slot].
// The slot is returned unmodified so that re-encoding stays byte-identical.
// A two-element literal whose first element happens to be a string is
// indistinguishable from a reference at this level; callers that rewrite
// references additionally require the id to name a node in the graph.
func Reference(v any) (id string, slot any, ok bool) {
	pair, isList := v.([]any)
	if !isList || len(pair) != 2 {
		return "", nil, false
	}
	id, isString := pair[0].(string)
	if !isString {
		return "", nil, false
	}
	return id, pair[1], true
}

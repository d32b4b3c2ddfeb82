package graph

import (
	"fmt"
	"sort"
	"strings"
)

// cacheAnchors are node types that pin heavyweight resources (model
// weights, encoders, samplers) inside the engine. Giving them the same id
// on every job lets the engine reuse what it already has loaded.
var cacheAnchors = map[string]string{
	"LoadDiffusionModelShared //Inspire": "model_loader_1",
	"CLIPLoader":                         "clip_loader_1",
	"VAELoader":                          "vae_loader_1",
	"CLIPVisionLoader":                   "clip_vision_loader_1",
	"WanImageToVideo":                    "wan_i2v_1",
	"LoadImage":                          "load_image_1",
	"CLIPVisionEncode":                   "clip_vision_encode_1",
	"ModelSamplingSD3":                   "model_sampling_1",
	"KSampler":                           "ksampler_1",
	"VAEDecode":                          "vae_decode_1",
	"CLIPTextEncode":                     "clip_text_encode",
	"SaveAnimatedWEBP":                   "save_webp_1",
	"VHS_VideoCombine":                   "vhs_videocombine_1",
}

// Canonicalize returns a copy of g with every node id rewritten to a
// content-derived name, and every reference rewritten in lock-step. The
// input graph is never mutated. Calling it twice yields the same result as
// calling it once, and two calls on the same graph always assign the same
// names; both properties are required for the engine's resource cache to
// hit across jobs.
//
// Known limitation: an input literal shaped like a two-element list whose
// first element equals some node id cannot be told apart from a reference
// and will be rewritten too. The graph schema has no type tag that would
// disambiguate the two.
func Canonicalize(g Graph) Graph {
	names := buildNameTable(g)

	out := make(Graph, len(g))
	for oldID, node := range g {
		copied := &Node{
			ClassType: node.ClassType,
			Meta:      copyValueMap(node.Meta),
		}
		if node.Inputs != nil {
			copied.Inputs = make(map[string]any, len(node.Inputs))
			for key, value := range node.Inputs {
				copied.Inputs[key] = rewriteValue(value, names)
			}
		}
		out[names[oldID]] = copied
	}
	return out
}

// buildNameTable assigns each node its canonical name in one pass over the
// node ids in sorted order. Sorting makes the ordinal assignment
// deterministic regardless of map iteration order. Names are unique within
// the graph: a cache-anchor name already taken (two nodes of the same
// anchored type) falls back to the ordinal scheme, and an ordinal name
// already taken keeps counting.
func buildNameTable(g Graph) map[string]string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	names := make(map[string]string, len(g))
	used := make(map[string]bool, len(g))
	counters := make(map[string]int)

	for _, oldID := range ids {
		classType := g[oldID].ClassType

		name := ""
		if anchor, ok := cacheAnchors[classType]; ok && !used[anchor] {
			name = anchor
		}
		for name == "" {
			counters[classType]++
			candidate := fmt.Sprintf("%s_%d", strings.ReplaceAll(strings.ToLower(classType), " ", "_"), counters[classType])
			if !used[candidate] {
				name = candidate
			}
		}

		names[oldID] = name
		used[name] = true
	}
	return names
}

// rewriteValue substitutes canonical ids into reference-shaped values and
// deep-copies everything else. A pair whose id is not in the table (a
// dangling or foreign reference, or a literal that merely looks like one)
// is passed through unchanged.
func rewriteValue(v any, names map[string]string) any {
	if id, slot, ok := Reference(v); ok {
		if newID, known := names[id]; known {
			return []any{newID, slot}
		}
	}
	return copyValue(v)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyValueMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

func copyValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

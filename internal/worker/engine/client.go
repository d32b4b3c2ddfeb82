// Package engine talks to the rendering engine that executes node-graph
// jobs: readiness probing and job submission over HTTP, lifecycle events
// over WebSocket, artifact download from the engine's output store.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"lienzo/internal/graph"
	"lienzo/internal/pkg/errors"
	"lienzo/internal/pkg/logger"
)

// Per-call timeouts. Videos stream out of the engine slower than still
// images, so they get a wider fetch window.
const (
	probeRequestTimeout = 5 * time.Second
	catalogTimeout      = 10 * time.Second
	submitTimeout       = 30 * time.Second
	historyTimeout      = 30 * time.Second
	uploadTimeout       = 30 * time.Second
	imageFetchTimeout   = 60 * time.Second
	videoFetchTimeout   = 120 * time.Second
)

// ArtifactKind selects the fetch timeout for one output file.
type ArtifactKind int

const (
	KindImage ArtifactKind = iota
	KindVideo
)

// ArtifactRef locates one output file in the engine's store.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput holds one node's outputs grouped by section (images, gifs,
// ...). Sections are kept raw; the collector decodes the ones it
// understands.
type NodeOutput map[string]json.RawMessage

// ExecutionRecord is the engine's post-execution record for one
// submission.
type ExecutionRecord struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

type Client struct {
	host   string
	base   string
	client *http.Client
	log    *logger.Logger
}

func NewClient(host string, log *logger.Logger) *Client {
	return &Client{
		host:   host,
		base:   "http://" + host,
		client: &http.Client{},
		log:    log.WithComponent("engine"),
	}
}

func (c *Client) Host() string { return c.host }

// Alive issues a single readiness probe against the engine's root
// endpoint.
func (c *Client) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return false
	}
	res, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode == http.StatusOK
}

// AwaitReady polls the engine until it answers the readiness probe,
// waiting interval between attempts and giving up after maxAttempts.
func (c *Client) AwaitReady(ctx context.Context, maxAttempts int, interval time.Duration) error {
	c.log.Info("checking engine availability", "url", c.base)

	for i := 0; i < maxAttempts; i++ {
		if c.Alive(ctx) {
			c.log.Info("engine is reachable", "attempts", i+1)
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "engine.await_ready", "readiness probe canceled")
		}
	}

	return errors.Newf(errors.CodeUnavailable,
		"Rendering engine (%s) not reachable after multiple retries.", c.host)
}

// SystemStats returns the engine's self-reported device and memory
// information.
func (c *Client) SystemStats(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, probeRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/system_stats", nil)
	if err != nil {
		return nil, errors.Wrap(err, "engine.system_stats", "build request")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "engine.system_stats", "system stats request failed")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeUnavailable, "system stats request failed: status %d", res.StatusCode)
	}

	var stats map[string]any
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		return nil, errors.Wrap(err, "engine.system_stats", "decode system stats")
	}
	return stats, nil
}

// AvailableCheckpoints lists the checkpoint model names the engine can
// load, dug out of its node catalog. Best effort: any failure returns
// nil after a warning.
func (c *Client) AvailableCheckpoints(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/object_info", nil)
	if err != nil {
		return nil
	}
	res, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("could not fetch available models", "error", err.Error())
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.Warn("could not fetch available models", "status", res.StatusCode)
		return nil
	}

	var catalog map[string]any
	if err := json.NewDecoder(res.Body).Decode(&catalog); err != nil {
		c.log.Warn("could not decode node catalog", "error", err.Error())
		return nil
	}
	return checkpointNames(catalog)
}

// checkpointNames extracts CheckpointLoaderSimple.input.required.
// ckpt_name[0] from the node catalog.
func checkpointNames(catalog map[string]any) []string {
	loader, ok := catalog["CheckpointLoaderSimple"].(map[string]any)
	if !ok {
		return nil
	}
	input, ok := loader["input"].(map[string]any)
	if !ok {
		return nil
	}
	required, ok := input["required"].(map[string]any)
	if !ok {
		return nil
	}
	ckpt, ok := required["ckpt_name"].([]any)
	if !ok || len(ckpt) == 0 {
		return nil
	}
	options, ok := ckpt[0].([]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(options))
	for _, o := range options {
		if s, ok := o.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// QueuePrompt submits the graph for execution scoped to clientID and
// returns the execution id the engine assigned.
func (c *Client) QueuePrompt(ctx context.Context, g graph.Graph, clientID string) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": g, "client_id": clientID})
	if err != nil {
		return "", errors.Wrap(err, "engine.queue_prompt", "encode prompt payload")
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "engine.queue_prompt", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", errors.Newf(errors.CodeUnavailable, "Error queuing workflow: %v", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Newf(errors.CodeUnavailable, "Error queuing workflow: %v", err)
	}

	if res.StatusCode == http.StatusBadRequest {
		return "", c.decodeRejection(ctx, raw)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", errors.Newf(errors.CodeUnavailable,
			"Error queuing workflow: status %d: %s", res.StatusCode, string(raw))
	}

	var queued struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(raw, &queued); err != nil {
		return "", errors.Newf(errors.CodeValidation, "invalid queue response: %v", err)
	}
	if queued.PromptID == "" {
		return "", errors.Newf(errors.CodeValidation, "Missing 'prompt_id' in queue response: %s", string(raw))
	}
	return queued.PromptID, nil
}

// decodeRejection normalizes the engine's 400 response into a validation
// error. The engine reports rejections in a few shapes; when the failure
// points at a missing model, the installed checkpoint list is appended
// to help whoever built the graph.
func (c *Client) decodeRejection(ctx context.Context, raw []byte) error {
	c.log.Warn("engine rejected job graph", "body", string(raw))

	var rejection struct {
		Error      any            `json:"error"`
		NodeErrors map[string]any `json:"node_errors"`
		Type       string         `json:"type"`
		Message    string         `json:"message"`
	}
	if err := json.Unmarshal(raw, &rejection); err != nil {
		return errors.Newf(errors.CodeValidation,
			"Rendering engine validation failed (could not parse error response): %s", string(raw))
	}

	message := "Workflow validation failed"
	switch e := rejection.Error.(type) {
	case map[string]any:
		if m, ok := e["message"].(string); ok && m != "" {
			message = m
		}
		if t, _ := e["type"].(string); t == "prompt_outputs_failed_validation" {
			message = "Workflow validation failed"
		}
	case nil:
	default:
		message = fmt.Sprintf("%v", e)
	}

	details := nodeErrorDetails(rejection.NodeErrors)

	// The engine omits per-node details for output validation failures,
	// so the model hint is the most useful thing we can add.
	if rejection.Type == "prompt_outputs_failed_validation" {
		message = "Workflow validation failed"
		if rejection.Message != "" {
			message = rejection.Message
		}
		message += "\n\nThis usually means a required model or parameter is not available.\n"
		message += modelHint(c.AvailableCheckpoints(ctx))
		return errors.New(errors.CodeValidation, message)
	}

	if len(details) > 0 {
		var b strings.Builder
		b.WriteString(message)
		b.WriteString(":")
		for _, d := range details {
			b.WriteString("\n• ")
			b.WriteString(d)
		}
		if mentionsMissingCheckpoint(details) {
			b.WriteString("\n\n")
			b.WriteString(modelHint(c.AvailableCheckpoints(ctx)))
		}
		return errors.New(errors.CodeValidation, b.String()).
			WithField("node_errors", rejection.NodeErrors)
	}

	return errors.Newf(errors.CodeValidation, "%s. Raw response: %s", message, string(raw))
}

// nodeErrorDetails flattens the per-node error map into display lines,
// sorted so the same rejection always reads the same way.
func nodeErrorDetails(nodeErrors map[string]any) []string {
	ids := make([]string, 0, len(nodeErrors))
	for id := range nodeErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var details []string
	for _, id := range ids {
		switch ne := nodeErrors[id].(type) {
		case map[string]any:
			kinds := make([]string, 0, len(ne))
			for kind := range ne {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)
			for _, kind := range kinds {
				details = append(details, fmt.Sprintf("Node %s (%s): %v", id, kind, ne[kind]))
			}
		default:
			details = append(details, fmt.Sprintf("Node %s: %v", id, ne))
		}
	}
	return details
}

func mentionsMissingCheckpoint(details []string) bool {
	for _, d := range details {
		if strings.Contains(d, "not in list") && strings.Contains(d, "ckpt_name") {
			return true
		}
	}
	return false
}

func modelHint(names []string) string {
	if len(names) > 0 {
		return "Available checkpoint models: " + strings.Join(names, ", ")
	}
	return "No checkpoint models appear to be available. Please check your model installation."
}

// History fetches the execution records for one submission. The engine
// keys the response by execution id.
func (c *Client) History(ctx context.Context, promptID string) (map[string]ExecutionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "engine.history", "build request")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Newf(errors.CodeUnavailable, "HTTP communication error with rendering engine: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeUnavailable,
			"HTTP communication error with rendering engine: history returned status %d", res.StatusCode)
	}

	var history map[string]ExecutionRecord
	if err := json.NewDecoder(res.Body).Decode(&history); err != nil {
		return nil, errors.Wrap(err, "engine.history", "decode history response")
	}
	return history, nil
}

// FetchArtifact downloads one output file from the engine's store.
func (c *Client) FetchArtifact(ctx context.Context, ref ArtifactRef, kind ArtifactKind) ([]byte, error) {
	timeout := imageFetchTimeout
	if kind == KindVideo {
		timeout = videoFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "engine.fetch_artifact", "build request")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "engine.fetch_artifact", "artifact request failed")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeUnavailable, "artifact request failed: status %d", res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "engine.fetch_artifact", "read artifact body")
	}
	return data, nil
}

// UploadImage pushes one input image into the engine's input store so
// graph nodes can reference it by name. An existing file with the same
// name is overwritten.
func (c *Client) UploadImage(ctx context.Context, name string, data []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	if err != nil {
		return errors.Wrap(err, "engine.upload_image", "build multipart body")
	}
	if _, err := part.Write(data); err != nil {
		return errors.Wrap(err, "engine.upload_image", "write image part")
	}
	if err := w.WriteField("overwrite", "true"); err != nil {
		return errors.Wrap(err, "engine.upload_image", "write overwrite field")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "engine.upload_image", "close multipart body")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload/image", &body)
	if err != nil {
		return errors.Wrap(err, "engine.upload_image", "build request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := c.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "engine.upload_image", "upload request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Newf(errors.CodeUnavailable, "upload request failed: status %d", res.StatusCode)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

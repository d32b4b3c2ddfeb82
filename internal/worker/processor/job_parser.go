package processor

import (
	"encoding/json"
	"strings"

	"lienzo/internal/graph"
	"lienzo/internal/pkg/errors"
)

// JobRequest es el pedido ya validado: el grafo a ejecutar y las
// imágenes de referencia que viajan con él.
type JobRequest struct {
	Workflow graph.Graph
	Images   []InputImage
}

// InputImage es una imagen de entrada embebida en el job, codificada en
// base64 (a secas o como data URI).
type InputImage struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type JobParser struct{}

func NewJobParser() *JobParser {
	return &JobParser{}
}

// Parse valida params_json y lo convierte en un JobRequest. Los mensajes
// de error son el texto final que ve el cliente.
func (jp *JobParser) Parse(paramsJSON string) (*JobRequest, error) {
	if strings.TrimSpace(paramsJSON) == "" {
		return nil, errors.New(errors.CodeValidation, "Please provide input")
	}

	var raw struct {
		Workflow json.RawMessage `json:"workflow"`
		Images   json.RawMessage `json:"images"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &raw); err != nil {
		return nil, errors.New(errors.CodeValidation, "Invalid JSON format in input")
	}

	if isAbsent(raw.Workflow) {
		return nil, errors.New(errors.CodeValidation, "Missing 'workflow' parameter")
	}
	g, err := graph.Parse(raw.Workflow)
	if err != nil {
		return nil, errors.New(errors.CodeValidation, "'workflow' must be an object mapping node ids to nodes")
	}

	images, err := parseImages(raw.Images)
	if err != nil {
		return nil, err
	}

	return &JobRequest{Workflow: g, Images: images}, nil
}

// parseImages valida la lista opcional de imágenes. Cada entrada tiene
// que traer las claves name e image.
func parseImages(raw json.RawMessage) ([]InputImage, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	badShape := errors.New(errors.CodeValidation,
		"'images' must be a list of objects with 'name' and 'image' keys")

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, badShape
	}

	images := make([]InputImage, 0, len(entries))
	for _, entry := range entries {
		nameRaw, hasName := entry["name"]
		imageRaw, hasImage := entry["image"]
		if !hasName || !hasImage {
			return nil, badShape
		}

		var img InputImage
		if err := json.Unmarshal(nameRaw, &img.Name); err != nil {
			return nil, badShape
		}
		if err := json.Unmarshal(imageRaw, &img.Image); err != nil {
			return nil, badShape
		}
		images = append(images, img)
	}
	return images, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

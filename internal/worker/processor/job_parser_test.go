package processor

import (
	"strings"
	"testing"

	"lienzo/internal/pkg/errors"
)

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"empty input", "", "Please provide input"},
		{"whitespace input", "   \n\t", "Please provide input"},
		{"invalid json", "{not json", "Invalid JSON format in input"},
		{"missing workflow", `{"images": []}`, "Missing 'workflow' parameter"},
		{"null workflow", `{"workflow": null}`, "Missing 'workflow' parameter"},
		{"workflow not an object", `{"workflow": [1, 2]}`, "'workflow' must be an object mapping node ids to nodes"},
		{"images not a list", `{"workflow": {}, "images": {"name": "a"}}`, "'images' must be a list of objects with 'name' and 'image' keys"},
		{"image entry missing keys", `{"workflow": {}, "images": [{"name": "a"}]}`, "'images' must be a list of objects with 'name' and 'image' keys"},
		{"image name not a string", `{"workflow": {}, "images": [{"name": 7, "image": "aGk="}]}`, "'images' must be a list of objects with 'name' and 'image' keys"},
	}

	jp := NewJobParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jp.Parse(tt.params)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !errors.IsCode(err, errors.CodeValidation) {
				t.Errorf("expected CodeValidation, got %v", errors.GetCode(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected message %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestParseWorkflowAndImages(t *testing.T) {
	jp := NewJobParser()

	req, err := jp.Parse(`{
		"workflow": {
			"3": {"class_type": "KSampler", "inputs": {"seed": 42, "model": ["4", 0]}},
			"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd15.safetensors"}}
		},
		"images": [
			{"name": "ref.png", "image": "aGVsbG8="}
		]
	}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(req.Workflow) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(req.Workflow))
	}
	if req.Workflow["3"].ClassType != "KSampler" {
		t.Errorf("unexpected class type: %q", req.Workflow["3"].ClassType)
	}
	if len(req.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(req.Images))
	}
	if req.Images[0].Name != "ref.png" || req.Images[0].Image != "aGVsbG8=" {
		t.Errorf("unexpected image entry: %+v", req.Images[0])
	}
}

func TestParseImagesOptional(t *testing.T) {
	jp := NewJobParser()

	for _, params := range []string{
		`{"workflow": {}}`,
		`{"workflow": {}, "images": null}`,
		`{"workflow": {}, "images": []}`,
	} {
		req, err := jp.Parse(params)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", params, err)
		}
		if len(req.Images) != 0 {
			t.Errorf("expected no images for %s, got %d", params, len(req.Images))
		}
	}
}

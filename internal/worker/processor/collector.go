package processor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	v0 "lienzo/internal/contracts/render/v0"
	"lienzo/internal/pkg/errors"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/ports"
	"lienzo/internal/worker/engine"
)

// Collector baja los artefactos que la ejecución dejó en el engine y los
// persiste. Las fallas por artefacto se anotan y no cortan el lote; las
// únicas fallas duras acá son no poder leer el historial o que el prompt
// haya desaparecido de él.
type Collector struct {
	client *engine.Client
	sp     ports.StorageProvider
	log    *logger.Logger
}

func NewCollector(client *engine.Client, sp ports.StorageProvider, log *logger.Logger) *Collector {
	return &Collector{client: client, sp: sp, log: log.WithComponent("collector")}
}

// Secciones del manifiesto que sabemos recolectar. Los videos salen del
// engine bajo la clave histórica "gifs".
var sections = []struct {
	key  string
	kind engine.ArtifactKind
	noun string
}{
	{"images", engine.KindImage, "image"},
	{"gifs", engine.KindVideo, "video"},
}

// Collect busca el registro de ejecución de promptID y recolecta sus
// salidas. execErrors son las fallas que el monitor ya juntó; el
// resultado las arrastra delante de los diagnósticos de recolección.
func (c *Collector) Collect(ctx context.Context, jobID, promptID string, execErrors []string) (*JobResult, error) {
	result := &JobResult{Errors: append([]string(nil), execErrors...)}
	log := c.log.WithPromptID(promptID)

	log.Info("fetching history")
	history, err := c.client.History(ctx, promptID)
	if err != nil {
		return nil, err
	}

	record, ok := history[promptID]
	if !ok {
		missing := fmt.Sprintf("Prompt ID %s not found in history after execution.", promptID)
		log.Error("prompt missing from history")
		if len(result.Errors) == 0 {
			return nil, errors.New(errors.CodeNotFound, missing)
		}
		result.Errors = append(result.Errors, missing)
		return nil, errors.New(errors.CodeNotFound,
			"Job processing failed, prompt ID not found in history.").
			WithField("details", result.Errors)
	}

	if len(record.Outputs) == 0 {
		log.Warn("no outputs in history")
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("No outputs found in history for prompt %s.", promptID))
		}
	}

	log.Info("processing output nodes", "count", len(record.Outputs))

	nodeIDs := make([]string, 0, len(record.Outputs))
	for id := range record.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		nodeOutput := record.Outputs[nodeID]
		for _, section := range sections {
			if raw, ok := nodeOutput[section.key]; ok {
				c.collectSection(ctx, jobID, nodeID, raw, section.kind, section.noun, result)
			}
		}
		c.warnUnhandled(nodeID, nodeOutput)
	}

	return result, nil
}

// collectSection procesa una lista de referencias a archivos de un nodo.
// Los de tipo "temp" se saltean siempre; cualquier otra falla se anota
// en result.Errors y se sigue con el próximo.
func (c *Collector) collectSection(ctx context.Context, jobID, nodeID string, raw json.RawMessage, kind engine.ArtifactKind, noun string, result *JobResult) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.log.Warn("unreadable output section", "node", nodeID, "section", noun, "error", err.Error())
		return
	}
	c.log.Info("node output found", "node", nodeID, "section", noun, "count", len(entries))

	for _, entryRaw := range entries {
		var ref engine.ArtifactRef
		if err := json.Unmarshal(entryRaw, &ref); err != nil {
			c.log.Warn("unreadable output entry", "node", nodeID, "error", err.Error())
			continue
		}
		if kind == engine.KindVideo && ref.Type == "" {
			ref.Type = "output"
		}
		if ref.Type == "temp" {
			c.log.Debug("skipping temp artifact", "filename", ref.Filename)
			continue
		}
		if ref.Filename == "" {
			c.log.Warn("output entry without filename", "node", nodeID)
			result.Errors = append(result.Errors,
				fmt.Sprintf("Skipping %s in node %s due to missing filename: %s", noun, nodeID, string(entryRaw)))
			continue
		}

		data, err := c.client.FetchArtifact(ctx, ref, kind)
		if err != nil {
			c.log.Warn("artifact fetch failed", "filename", ref.Filename, "error", err.Error())
			result.Errors = append(result.Errors,
				fmt.Sprintf("Failed to fetch %s data for %s from /view endpoint.", noun, ref.Filename))
			continue
		}

		artifact, err := c.persist(ctx, jobID, ref, data)
		if err != nil {
			c.log.Warn("artifact upload failed", "filename", ref.Filename, "error", err.Error())
			result.Errors = append(result.Errors,
				fmt.Sprintf("Error uploading %s: %v", ref.Filename, err))
			continue
		}
		result.Artifacts = append(result.Artifacts, artifact)
	}
}

// persist guarda los bytes de un artefacto. El modo se decide una vez
// por job: con provider externo configurado el archivo se sube y el
// resultado lleva su URL; sin provider, viaja inline en base64.
func (c *Collector) persist(ctx context.Context, jobID string, ref engine.ArtifactRef, data []byte) (v0.Artifact, error) {
	if c.sp == nil {
		c.log.Debug("encoded artifact as base64", "filename", ref.Filename, "bytes", len(data))
		return v0.Artifact{
			Filename: ref.Filename,
			Type:     "base64",
			Data:     base64.StdEncoding.EncodeToString(data),
		}, nil
	}

	objectKey := fmt.Sprintf("renders/%s/%s", jobID, SanitizeFilename(ref.Filename))
	contentType := mime.TypeByExtension(filepath.Ext(ref.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	out, err := c.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      bytes.NewReader(data),
		Size:        int64(len(data)),
	})
	if err != nil {
		return v0.Artifact{}, err
	}

	c.log.Info("artifact uploaded",
		"filename", ref.Filename, "object_key", out.ObjectKey, "provider", c.sp.Provider())
	return v0.Artifact{Filename: ref.Filename, Type: "s3_url", Data: out.Location}, nil
}

// warnUnhandled deja constancia de secciones de salida que todavía no
// recolectamos. Sólo log: no ensucia el resultado del job.
func (c *Collector) warnUnhandled(nodeID string, out engine.NodeOutput) {
	var other []string
	for key := range out {
		handled := false
		for _, section := range sections {
			if key == section.key {
				handled = true
				break
			}
		}
		if !handled {
			other = append(other, key)
		}
	}
	if len(other) == 0 {
		return
	}
	sort.Strings(other)
	c.log.Warn("node produced unhandled output keys",
		"node", nodeID, "keys", strings.Join(other, ","))
}

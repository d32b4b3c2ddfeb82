package processor

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"lienzo/internal/pkg/errors"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/worker/engine"
)

// InputPreloader empuja las imágenes de referencia del job al almacén de
// entradas del engine, para que los nodos del grafo puedan
// referenciarlas por nombre.
type InputPreloader struct {
	client *engine.Client
	log    *logger.Logger
}

func NewInputPreloader(client *engine.Client, log *logger.Logger) *InputPreloader {
	return &InputPreloader{client: client, log: log.WithComponent("preloader")}
}

// Preload sube todas las imágenes y devuelve una línea por cada una que
// no se pudo subir. Nunca corta el lote: el resto se intenta igual.
func (ip *InputPreloader) Preload(ctx context.Context, images []InputImage) []string {
	if len(images) == 0 {
		return nil
	}
	ip.log.Info("uploading input images", "count", len(images))

	var uploadErrors []string
	for _, img := range images {
		data, err := decodeImagePayload(img.Image)
		if err != nil {
			uploadErrors = append(uploadErrors,
				fmt.Sprintf("Error decoding base64 for %s: %v", img.Name, err))
			continue
		}

		if err := ip.client.UploadImage(ctx, img.Name, data); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				uploadErrors = append(uploadErrors, fmt.Sprintf("Timeout uploading %s", img.Name))
			} else {
				uploadErrors = append(uploadErrors, fmt.Sprintf("Error uploading %s: %v", img.Name, err))
			}
			continue
		}
		ip.log.Debug("input image staged", "name", img.Name)
	}

	if len(uploadErrors) > 0 {
		ip.log.Warn("image upload finished with errors", "failed", len(uploadErrors))
		return uploadErrors
	}
	ip.log.Info("image upload complete")
	return nil
}

// decodeImagePayload acepta base64 a secas o un data URI completo; en el
// segundo caso descarta el prefijo hasta la coma. El espacio en blanco no
// es contenido: los clientes mandan base64 envuelto en saltos de línea.
func decodeImagePayload(payload string) ([]byte, error) {
	if i := strings.Index(payload, ","); i >= 0 {
		payload = payload[i+1:]
	}
	payload = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)
	return base64.StdEncoding.DecodeString(payload)
}

package processor

import "strings"

// idSample recorta una lista de ids a cinco entradas para log.
func idSample(ids []string) string {
	if len(ids) > 5 {
		return strings.Join(ids[:5], ", ") + "..."
	}
	return strings.Join(ids, ", ")
}

// SanitizeFilename limpia un nombre de archivo de caracteres peligrosos
// antes de usarlo en una clave de objeto.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "artifact"
	}
	return s
}

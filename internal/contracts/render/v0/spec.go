package v0

// Contrato v0 del resultado de un job de render. El worker lo escribe en
// jobs.result_json y la API lo devuelve tal cual; los dos lados dependen
// de este paquete y de nada más entre sí.

// Artifact es un archivo producido por el job.
// - type "s3_url": data es una dirección accesible desde afuera
// - type "base64": data es el contenido del archivo inline
type Artifact struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Data     string `json:"data"`
}

// Result es el payload de un job terminado. Errors viene poblado cuando
// hubo fallas parciales; status "success_no_files" marca una corrida
// limpia que no produjo archivos.
type Result struct {
	Images []Artifact `json:"images"`
	Errors []string   `json:"errors,omitempty"`
	Status string     `json:"status,omitempty"`
}

// Failure es el payload de un job que falló sin producir ningún archivo.
type Failure struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

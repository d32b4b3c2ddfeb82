package processor

import (
	v0 "lienzo/internal/contracts/render/v0"
)

// JobResult acumula lo que la recolección extrajo de una ejecución:
// artefactos y diagnósticos, en el orden en que aparecieron.
type JobResult struct {
	Artifacts []v0.Artifact
	Errors    []string
}

// successPayload arma el result_json de un job terminado. Una corrida
// limpia que no produjo archivos se marca con "success_no_files" para
// distinguirla de un resultado perdido.
func successPayload(r *JobResult) v0.Result {
	p := v0.Result{Images: r.Artifacts, Errors: r.Errors}
	if p.Images == nil {
		p.Images = []v0.Artifact{}
	}
	if len(r.Artifacts) == 0 && len(r.Errors) == 0 {
		p.Status = "success_no_files"
	}
	return p
}

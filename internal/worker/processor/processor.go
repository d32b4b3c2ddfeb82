package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"lienzo/internal/config"
	v0 "lienzo/internal/contracts/render/v0"
	"lienzo/internal/graph"
	"lienzo/internal/pkg/errors"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/ports"
	"lienzo/internal/worker/engine"
)

type Deps struct {
	Pool     *pgxpool.Pool
	Engine   *engine.Client
	SP       ports.StorageProvider
	Stream   config.StreamConfig
	Probe    config.EngineConfig
	ClientID string
	Log      *logger.Logger
}

type Processor struct {
	pool     *pgxpool.Pool
	engine   *engine.Client
	sp       ports.StorageProvider
	stream   config.StreamConfig
	probe    config.EngineConfig
	clientID string
	log      *logger.Logger

	// Componentes internos
	jobParser *JobParser
	preloader *InputPreloader
	monitor   *Monitor
	collector *Collector
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	p := &Processor{
		pool:     d.Pool,
		engine:   d.Engine,
		sp:       d.SP,
		stream:   d.Stream,
		probe:    d.Probe,
		clientID: d.ClientID,
		log:      log,
	}

	// Inicializar componentes
	p.jobParser = NewJobParser()
	p.preloader = NewInputPreloader(d.Engine, log)
	p.monitor = NewMonitor(d.Engine, d.Stream, log)
	p.collector = NewCollector(d.Engine, d.SP, log)

	return p
}

// ProcessJob orquesta el flujo completo del job
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	// 1. Obtener y parsear el job
	log.Debug("fetching job params")
	paramsJSON, err := p.fetchJobParams(ctx, jobID)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.fetch", "failed to fetch job params"))
	}

	log.Debug("parsing job params")
	request, err := p.jobParser.Parse(paramsJSON)
	if err != nil {
		// El mensaje del parser ya es el texto final para el cliente.
		return p.failJob(ctx, jobID, err)
	}

	// 2. Marcar como running
	log.Debug("marking job as running")
	if err := p.markJobRunning(ctx, jobID); err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.status", "failed to mark job as running"))
	}

	// 3. Canonicalizar el grafo para reusar la caché de modelos del engine
	originalIDs := request.Workflow.IDs()
	canonical := graph.Canonicalize(request.Workflow)
	log.Info("workflow canonicalized",
		"nodes", len(canonical),
		"original_ids", idSample(originalIDs),
		"canonical_ids", idSample(canonical.IDs()),
	)

	// 4. Esperar a que el engine esté disponible
	if err := p.engine.AwaitReady(ctx, p.probe.ProbeMaxAttempts, p.probe.ProbeInterval()); err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 5. Subir las imágenes de entrada, si las hay
	if uploadErrors := p.preloader.Preload(ctx, request.Images); len(uploadErrors) > 0 {
		return p.failJob(ctx, jobID, errors.New(errors.CodeValidation,
			"Failed to upload one or more input images").WithField("details", uploadErrors))
	}

	// 6. Ejecutar el grafo y monitorear hasta el final
	outcome, err := p.monitor.Execute(ctx, canonical, p.clientID)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 7. Recolectar las salidas. También tras errores de ejecución:
	// pueden existir parciales y valen la pena.
	result, err := p.collector.Collect(ctx, jobID, outcome.PromptID, outcome.Errors)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 8. Clasificar: errores sin ningún archivo es fallo duro
	if len(result.Artifacts) == 0 && len(result.Errors) > 0 {
		return p.failJob(ctx, jobID, errors.New(errors.CodeInternal, "Job processing failed").
			WithField("details", result.Errors))
	}

	payload := successPayload(result)
	if payload.Status != "" {
		log.Info("job produced no output files")
	} else if len(result.Errors) > 0 {
		log.Warn("job completed with errors",
			"artifacts", len(result.Artifacts), "errors", len(result.Errors))
	}

	// 9. Guardar resultado y marcar como completado
	log.Debug("saving job result")
	if err := p.saveJobResult(ctx, jobID, payload); err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.save", "failed to save job result"))
	}

	log.Info("job result stored", "artifacts", len(result.Artifacts))
	return p.markJobDone(ctx, jobID)
}

func (p *Processor) fetchJobParams(ctx context.Context, jobID string) (string, error) {
	var paramsJSON string
	err := p.pool.QueryRow(ctx,
		`SELECT params_json FROM jobs WHERE id=$1`,
		jobID,
	).Scan(&paramsJSON)
	if err != nil {
		return "", fmt.Errorf("job not found: %w", err)
	}
	return paramsJSON, nil
}

func (p *Processor) markJobRunning(ctx context.Context, jobID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE jobs SET status='RUNNING', started_at=NOW(), finished_at=NULL, error_text=NULL WHERE id=$1`,
		jobID,
	)
	return err
}

func (p *Processor) markJobDone(ctx context.Context, jobID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE jobs SET status='DONE', finished_at=NOW() WHERE id=$1`,
		jobID,
	)
	return err
}

func (p *Processor) saveJobResult(ctx context.Context, jobID string, payload v0.Result) error {
	resultJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE jobs SET result_json=$2 WHERE id=$1`,
		jobID, resultJSON,
	)
	return err
}

func (p *Processor) failJob(ctx context.Context, jobID string, cause error) error {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	msg := ""
	payload := v0.Failure{Error: "Job processing failed"}
	if cause != nil {
		msg = cause.Error()
		if len(msg) > 2000 {
			msg = msg[:2000]
		}

		// Log with error details
		var appErr *errors.Error
		if errors.As(cause, &appErr) {
			payload.Error = appErr.Message
			if details, ok := appErr.Fields["details"].([]string); ok {
				payload.Details = details
			}
			log.Error("job failed",
				"code", string(appErr.Code),
				"op", appErr.Op,
				"message", appErr.Message,
			)
		} else {
			payload.Error = msg
			log.Error("job failed", "error", msg)
		}
	}

	resultJSON, _ := json.Marshal(payload)
	_, _ = p.pool.Exec(ctx,
		`UPDATE jobs SET status='FAILED', finished_at=NOW(), error_text=$2, result_json=$3 WHERE id=$1`,
		jobID, msg, resultJSON,
	)

	return cause
}

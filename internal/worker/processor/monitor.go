package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lienzo/internal/config"
	"lienzo/internal/graph"
	"lienzo/internal/pkg/errors"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/worker/engine"
)

// Monitor conduce una ejecución: encola el grafo y sigue el stream de
// eventos del engine hasta que la corrida termina, reconectando cuando
// la conexión se cae y sondeando el engine cuando el stream queda mudo
// demasiado tiempo.
type Monitor struct {
	client *engine.Client
	cfg    config.StreamConfig
	log    *logger.Logger
}

func NewMonitor(client *engine.Client, cfg config.StreamConfig, log *logger.Logger) *Monitor {
	return &Monitor{client: client, cfg: cfg, log: log.WithComponent("monitor")}
}

// Outcome es el final de una ejecución monitoreada. Errors trae las
// fallas de nodo que el engine reportó en vuelo; la corrida igual se da
// por terminada y sus salidas parciales se recolectan.
type Outcome struct {
	PromptID string
	Errors   []string
}

// Execute encola el grafo bajo clientID y bloquea hasta que el engine
// termina de ejecutarlo. El stream se conecta antes de encolar para no
// perder eventos tempranos.
func (m *Monitor) Execute(ctx context.Context, g graph.Graph, clientID string) (*Outcome, error) {
	stream, err := engine.DialStream(ctx, m.client.Host(), clientID, m.cfg.ReceiveTimeout())
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	m.log.Debug("event stream connected", "url", stream.URL())

	promptID, err := m.client.QueuePrompt(ctx, g, clientID)
	if err != nil {
		return nil, err
	}
	m.log.WithPromptID(promptID).Info("graph queued")

	outcome := &Outcome{PromptID: promptID}
	if err := m.await(ctx, stream, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// await consume el stream hasta ver el fin de la ejecución. El contador
// de stalls cuenta timeouts de recepción consecutivos y sólo se reinicia
// con señales de vida de la ejecución; sobrevive a los reconnects.
func (m *Monitor) await(ctx context.Context, stream *engine.Stream, outcome *Outcome) error {
	stalls := 0

	for {
		raw, err := stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if errors.IsCode(err, errors.CodeTimeout) {
				stalls++
				m.log.Debug("websocket receive timed out, still waiting",
					"stalls", stalls, "limit", m.cfg.StallProbeAfter)
				if stalls < m.cfg.StallProbeAfter {
					continue
				}
				// Demasiado silencio: comprobar fuera de banda si el
				// engine sigue vivo.
				if !m.client.Alive(ctx) {
					return errors.New(errors.CodeUnavailable,
						"WebSocket communication error: Rendering engine became unreachable")
				}
				stalls = 0
				m.log.Info("engine still reachable, continuing to wait")
				continue
			}

			if rerr := m.reconnect(ctx, stream, err); rerr != nil {
				return rerr
			}
			m.log.Info("resuming event listening after reconnect")
			continue
		}

		ev, ok := engine.ParseEvent(raw)
		if !ok {
			m.log.Warn("received invalid event frame over websocket")
			continue
		}

		switch ev.Type {
		case engine.EventStatus:
			var st engine.StatusData
			_ = json.Unmarshal(ev.Data, &st)
			m.log.Info("status update", "queue_remaining", st.Status.ExecInfo.QueueRemaining)
			stalls = 0

		case engine.EventProgress:
			var pr engine.ProgressData
			_ = json.Unmarshal(ev.Data, &pr)
			pct := 0.0
			if pr.Max > 0 {
				pct = pr.Value / pr.Max * 100
			}
			m.log.Debug("progress",
				"node", pr.Node, "value", pr.Value, "max", pr.Max,
				"pct", fmt.Sprintf("%.1f", pct),
			)
			stalls = 0

		case engine.EventExecuting:
			var ex engine.ExecutingData
			_ = json.Unmarshal(ev.Data, &ex)
			if ex.Node == nil && ex.PromptID == outcome.PromptID {
				m.log.Info("execution finished", "prompt_id", outcome.PromptID)
				return nil
			}
			if ex.Node != nil {
				m.log.Debug("executing node", "node", *ex.Node)
				stalls = 0
			}

		case engine.EventExecutionError:
			var ee engine.ExecutionErrorData
			_ = json.Unmarshal(ev.Data, &ee)
			if ee.PromptID == outcome.PromptID {
				detail := fmt.Sprintf("Node Type: %s, Node ID: %v, Message: %s",
					ee.NodeType, ee.NodeID, ee.ExceptionMessage)
				m.log.Error("execution error received", "detail", detail)
				outcome.Errors = append(outcome.Errors, "Workflow execution error: "+detail)
				// La corrida se da por terminada igual: las salidas
				// parciales que existan se recolectan después.
				return nil
			}

		case engine.EventExecuted:
			var ed engine.ExecutedData
			_ = json.Unmarshal(ev.Data, &ed)
			if ed.PromptID == outcome.PromptID {
				m.log.Debug("node executed", "node", ed.Node)
				stalls = 0
			}
		}
	}
}

// reconnect repone una conexión caída. Antes de cada intento sondea el
// HTTP del engine: si el engine mismo está muerto, reintentar el
// websocket no tiene sentido y se aborta de inmediato.
func (m *Monitor) reconnect(ctx context.Context, stream *engine.Stream, initial error) error {
	m.log.Warn("websocket connection closed unexpectedly, attempting to reconnect",
		"error", initial.Error(), "max_attempts", m.cfg.ReconnectAttempts)

	lastErr := initial
	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		if !m.client.Alive(ctx) {
			m.log.Error("engine http unreachable, aborting websocket reconnect")
			return errors.New(errors.CodeUnavailable,
				"WebSocket communication error: Rendering engine HTTP unreachable during websocket reconnect")
		}

		m.log.Info("attempting websocket reconnect",
			"attempt", attempt, "max_attempts", m.cfg.ReconnectAttempts)
		if err := stream.Redial(ctx); err != nil {
			lastErr = err
			m.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err.Error())
			if attempt < m.cfg.ReconnectAttempts {
				select {
				case <-time.After(m.cfg.ReconnectDelay()):
				case <-ctx.Done():
					return errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable,
						"monitor.reconnect", "reconnect canceled")
				}
			}
			continue
		}

		m.log.Info("websocket reconnected")
		return nil
	}

	m.log.Error("failed to reconnect websocket after connection closed")
	return errors.Newf(errors.CodeUnavailable,
		"WebSocket communication error: Connection closed and failed to reconnect. Last error: %v", lastErr)
}

// Package engine implementa o loop de handoff: espera o produtor terminar um
// frame, apresenta o buffer na saída e devolve o buffer superado ao produtor
// um passo depois. É single-thread por construção; a segurança vem da
// máquina de estados dos buffers, não de lock.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/T3-Labs/edge-display/pkg/buffer"
	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/metrics"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

const defaultIdleTimeout = 5 * time.Second

type Config struct {
	// VideoDevice rotula métricas e logs; não afeta o comportamento.
	VideoDevice string

	// IdleTimeout é o tempo sem sinal de nenhum subsistema depois do qual o
	// loop desiste (produtor travado ou desconectado).
	IdleTimeout time.Duration

	Target  pipeline.Target
	Source  geometry.Rect
	Compose geometry.Rect
}

// Engine dirige o handoff entre os dois pipelines assíncronos. Só carrega
// referências emprestadas aos buffers do pool; nunca aloca nem libera nada.
type Engine struct {
	producer pipeline.Producer
	display  pipeline.Display
	pool     *buffer.Pool
	events   EventSource
	cfg      Config

	// current é o índice do buffer visível na saída, -1 antes do primeiro
	// frame. Só o loop escreve; tudo é atômico porque o publisher de
	// estatísticas lê Stats de fora do loop.
	current atomic.Int64

	presented     atomic.Uint64
	requeued      atomic.Uint64
	displayEvents atomic.Uint64
	startedAt     time.Time
}

func New(producer pipeline.Producer, display pipeline.Display, pool *buffer.Pool, events EventSource, cfg Config) *Engine {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	e := &Engine{
		producer: producer,
		display:  display,
		pool:     pool,
		events:   events,
		cfg:      cfg,
	}
	e.current.Store(-1)
	return e
}

// Run roda o loop até timeout de inatividade, pedido de parada ou falha
// fatal. Na saída o buffer apresentado continua visível; o teardown do frame
// fica por conta da destruição do pool.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now()
	metrics.SessionActive.Set(1)
	defer metrics.SessionActive.Set(0)

	logger.Log.Infow("Loop de handoff iniciado",
		"video_device", e.cfg.VideoDevice,
		"buffers", e.pool.Len(),
		"idle_timeout", e.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			logger.Log.Infow("Parada solicitada, encerrando loop",
				"frames_presented", e.presented.Load())
			return nil
		default:
		}

		ev, err := e.events.Wait(e.cfg.IdleTimeout)
		if err != nil {
			return e.fault("wait", err)
		}

		switch ev {
		case EventNone:
			continue

		case EventStop:
			logger.Log.Infow("Parada solicitada pela fonte de eventos",
				"frames_presented", e.presented.Load())
			return nil

		case EventTimeout:
			logger.Log.Warnw("Nenhuma atividade dentro do intervalo, produtor travado ou desconectado",
				"idle_timeout", e.cfg.IdleTimeout,
				"frames_presented", e.presented.Load())
			return nil

		case EventDisplay:
			// Sinal B: só liveness. Nenhuma transição de buffer acontece
			// aqui; a devolução é dirigida pelo sinal do produtor.
			if err := e.display.ReadEvents(); err != nil {
				return e.fault("display_events", err)
			}
			e.displayEvents.Add(1)
			metrics.DisplayEvents.WithLabelValues(e.cfg.VideoDevice).Inc()

		case EventProducerReady:
			if err := e.step(); err != nil {
				return err
			}
		}
	}
}

// step processa o sinal A: coleta o frame completo, apresenta, e devolve ao
// produtor o buffer que estava visível até agora.
func (e *Engine) step() error {
	start := time.Now()

	slot, err := e.producer.Collect()
	if err != nil {
		return e.fault("collect", err)
	}

	buf := e.pool.BySlot(slot)
	if buf == nil {
		return e.fault("collect", fmt.Errorf("produtor devolveu slot desconhecido %d", slot))
	}

	if err := buf.MarkCollected(); err != nil {
		return e.fault("state", err)
	}

	if err := e.display.Present(buf.SurfaceID, e.cfg.Target, e.cfg.Source, e.cfg.Compose); err != nil {
		return e.fault("present", err)
	}
	if err := buf.MarkPresenting(); err != nil {
		return e.fault("state", err)
	}

	// Atraso de um: o buffer superado só volta ao produtor agora, um frame
	// inteiro depois de deixar de ser o mais novo. A latência do pipeline de
	// apresentação é a sincronização; não existe fence explícito.
	if cur := e.current.Load(); cur >= 0 {
		prev := e.pool.Get(int(cur))
		if err := prev.MarkSuperseded(); err != nil {
			return e.fault("state", err)
		}
		if err := e.producer.Submit(prev.Slot); err != nil {
			return e.fault("requeue", err)
		}
		if err := prev.MarkQueued(); err != nil {
			return e.fault("state", err)
		}
		e.requeued.Add(1)
		metrics.BuffersRequeued.WithLabelValues(e.cfg.VideoDevice).Inc()
	}

	e.current.Store(int64(buf.Index))
	presented := e.presented.Add(1)
	metrics.FramesPresented.WithLabelValues(e.cfg.VideoDevice).Inc()
	metrics.HandoffLatency.WithLabelValues(e.cfg.VideoDevice).Observe(time.Since(start).Seconds())
	e.updatePoolGauges()

	if presented%30 == 0 {
		logger.Log.Debugw("Handoff em regime",
			"frames_presented", presented,
			"current_buffer", buf.Index,
			"pool", e.pool.Stats().String())
	}

	return nil
}

func (e *Engine) updatePoolGauges() {
	stats := e.pool.Stats()
	metrics.PoolBuffers.WithLabelValues(buffer.StateFree.String()).Set(float64(stats.Free))
	metrics.PoolBuffers.WithLabelValues(buffer.StateQueuedToProducer.String()).Set(float64(stats.Queued))
	metrics.PoolBuffers.WithLabelValues(buffer.StateReadyForPresentation.String()).Set(float64(stats.Ready))
	metrics.PoolBuffers.WithLabelValues(buffer.StatePresenting.String()).Set(float64(stats.Presenting))
}

func (e *Engine) fault(op string, err error) error {
	metrics.StreamFaults.WithLabelValues(e.cfg.VideoDevice, op).Inc()
	logger.Log.Errorw("Falha fatal de stream",
		"operation", op,
		"error", err,
		"frames_presented", e.presented.Load())
	return &pipeline.StreamFault{Op: op, Err: err}
}

// CurrentBuffer é o índice do buffer visível, -1 antes do primeiro frame.
func (e *Engine) CurrentBuffer() int { return int(e.current.Load()) }

// Stats é um snapshot da sessão de streaming.
type Stats struct {
	FramesPresented uint64
	BuffersRequeued uint64
	DisplayEvents   uint64
	CurrentBuffer   int
	Uptime          time.Duration
}

func (e *Engine) Stats() Stats {
	return Stats{
		FramesPresented: e.presented.Load(),
		BuffersRequeued: e.requeued.Load(),
		DisplayEvents:   e.displayEvents.Load(),
		CurrentBuffer:   int(e.current.Load()),
		Uptime:          time.Since(e.startedAt),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("Session: %d frames, %d requeued, %d display events, uptime %v",
		s.FramesPresented, s.BuffersRequeued, s.DisplayEvents, s.Uptime.Round(time.Millisecond))
}

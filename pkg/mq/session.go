package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/metrics"
)

type EventType string

const (
	EventTypeSessionStarted EventType = "session_started"
	EventTypeSessionStats   EventType = "session_stats"
	EventTypeSessionStopped EventType = "session_stopped"
)

// StreamStats é o retrato da sessão embutido nos eventos periódicos.
type StreamStats struct {
	FramesPresented uint64  `json:"frames_presented"`
	BuffersRequeued uint64  `json:"buffers_requeued"`
	DisplayEvents   uint64  `json:"display_events"`
	CurrentBuffer   int     `json:"current_buffer"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

type SessionEvent struct {
	EventType   EventType    `json:"event_type"`
	SessionID   string       `json:"session_id"`
	VideoDevice string       `json:"video_device"`
	Timestamp   time.Time    `json:"timestamp"`
	Stats       *StreamStats `json:"stats,omitempty"`
}

// Reporter publica o ciclo de vida da sessão de streaming em um broker:
// um evento na partida, estatísticas em intervalo fixo e um evento final na
// parada. Falha de publicação nunca derruba a sessão; só é registrada.
type Reporter struct {
	pub           Publisher
	publisherType string
	sessionID     string
	videoDevice   string
	interval      time.Duration
	snapshot      func() StreamStats

	cancel context.CancelFunc
	done   chan struct{}
}

func NewReporter(pub Publisher, publisherType, videoDevice string, interval time.Duration, snapshot func() StreamStats) *Reporter {
	return &Reporter{
		pub:           pub,
		publisherType: publisherType,
		sessionID:     uuid.NewString(),
		videoDevice:   videoDevice,
		interval:      interval,
		snapshot:      snapshot,
	}
}

func (r *Reporter) SessionID() string { return r.sessionID }

func (r *Reporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	r.publish(ctx, SessionEvent{
		EventType:   EventTypeSessionStarted,
		SessionID:   r.sessionID,
		VideoDevice: r.videoDevice,
		Timestamp:   time.Now(),
	})

	go r.loop(ctx)
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PublishStats(ctx)
		}
	}
}

// PublishStats emite um evento de estatísticas imediatamente.
func (r *Reporter) PublishStats(ctx context.Context) {
	stats := r.snapshot()
	r.publish(ctx, SessionEvent{
		EventType:   EventTypeSessionStats,
		SessionID:   r.sessionID,
		VideoDevice: r.videoDevice,
		Timestamp:   time.Now(),
		Stats:       &stats,
	})
}

// Stop encerra o loop e publica o evento final com as estatísticas da sessão.
func (r *Reporter) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done

	stats := r.snapshot()
	r.publish(context.Background(), SessionEvent{
		EventType:   EventTypeSessionStopped,
		SessionID:   r.sessionID,
		VideoDevice: r.videoDevice,
		Timestamp:   time.Now(),
		Stats:       &stats,
	})
}

func (r *Reporter) publish(ctx context.Context, event SessionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithSession(r.sessionID).Errorw("Falha ao serializar evento de sessão",
			"event_type", event.EventType, "error", err)
		return
	}

	start := time.Now()
	if err := r.pub.Publish(ctx, r.sessionID, payload); err != nil {
		logger.WithSession(r.sessionID).Warnw("Falha ao publicar evento de sessão",
			"event_type", event.EventType, "error", err)
		return
	}
	metrics.StatsPublishLatency.WithLabelValues(r.publisherType).Observe(time.Since(start).Seconds())
}

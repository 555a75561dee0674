// Package sysmon acompanha a memória residente do processo. Buffers dma-buf
// ficam fora do heap do Go, então a medição vem do RSS do processo e não do
// runtime.
package sysmon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/metrics"
)

type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

const (
	warningPercent  = 75.0
	criticalPercent = 90.0
)

func levelFor(usagePercent float64) Level {
	switch {
	case usagePercent >= criticalPercent:
		return LevelCritical
	case usagePercent >= warningPercent:
		return LevelWarning
	default:
		return LevelNormal
	}
}

type Monitor struct {
	maxMemoryMB uint64
	interval    time.Duration
	proc        *process.Process

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(maxMemoryMB uint64, interval time.Duration) (*Monitor, error) {
	if maxMemoryMB == 0 {
		maxMemoryMB = 256
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir o próprio processo: %w", err)
	}

	return &Monitor{
		maxMemoryMB: maxMemoryMB,
		interval:    interval,
		proc:        proc,
	}, nil
}

func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	logger.Log.Infow("Monitor de memória iniciado",
		"max_memory_mb", m.maxMemoryMB,
		"interval", m.interval)

	go m.loop(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last := LevelNormal
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last = m.check(last)
		}
	}
}

func (m *Monitor) check(last Level) Level {
	info, err := m.proc.MemoryInfo()
	if err != nil {
		logger.Log.Warnw("Falha ao ler memória do processo", "error", err)
		return last
	}

	rssMB := float64(info.RSS) / 1024 / 1024
	usagePercent := rssMB / float64(m.maxMemoryMB) * 100
	level := levelFor(usagePercent)

	metrics.MemoryRSSMB.Set(rssMB)
	metrics.MemoryUsagePercent.Set(usagePercent)
	metrics.MemoryLevel.Set(float64(level))

	if level != last {
		logger.Log.Warnw("Nível de memória alterado",
			"old_level", last.String(),
			"new_level", level.String(),
			"rss_mb", fmt.Sprintf("%.1f", rssMB),
			"usage_percent", fmt.Sprintf("%.1f%%", usagePercent))
	}
	return level
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MemoryRSSMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_display_memory_rss_mb",
		Help: "Memória residente do processo em megabytes",
	})

	MemoryUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_display_memory_usage_percent",
		Help: "Porcentagem de uso de memória em relação ao limite configurado",
	})

	MemoryLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_display_memory_level",
		Help: "Nível de memória atual (0=Normal, 1=Warning, 2=Critical)",
	})
)

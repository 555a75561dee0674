package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DeviceConfig struct {
	VideoDevice string `mapstructure:"video_device"`
	DRMModule   string `mapstructure:"drm_module"`
	BufferCount int    `mapstructure:"buffer_count"`
}

type GeometryConfig struct {
	Size      string `mapstructure:"size"`       // "W,H"
	Format    string `mapstructure:"format"`     // fourcc de captura
	OutFormat string `mapstructure:"out_format"` // fourcc de saída, opcional
	Source    string `mapstructure:"source"`     // "W,H@L,T" recorte do frame
	Compose   string `mapstructure:"compose"`    // "W,H@L,T" retângulo na tela
}

type OutputConfig struct {
	ConnectorID uint32 `mapstructure:"connector_id"`
	CRTCID      uint32 `mapstructure:"crtc_id"`
}

type AMQPConfig struct {
	AmqpURL          string `mapstructure:"amqp_url"`
	Exchange         string `mapstructure:"exchange"`
	RoutingKeyPrefix string `mapstructure:"routing_key_prefix"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type SessionConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Protocol        string `mapstructure:"protocol"` // "amqp" ou "mqtt"
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

type MonitorConfig struct {
	MaxMemoryMB     uint64 `mapstructure:"max_memory_mb"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type Config struct {
	Device             DeviceConfig   `mapstructure:"device"`
	Geometry           GeometryConfig `mapstructure:"geometry"`
	Output             OutputConfig   `mapstructure:"output"`
	IdleTimeoutSeconds int            `mapstructure:"idle_timeout_seconds"`
	Session            SessionConfig  `mapstructure:"session"`
	AMQP               AMQPConfig     `mapstructure:"amqp"`
	MQTT               MQTTConfig     `mapstructure:"mqtt"`
	Monitor            MonitorConfig  `mapstructure:"monitor"`
	Metrics            MetricsConfig  `mapstructure:"metrics"`
}

// IdleTimeout converte o timeout configurado; o padrão é 5s quando o valor
// está ausente ou é inválido.
func (c *Config) IdleTimeout() time.Duration {
	if c.IdleTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// StatsInterval é a cadência de publicação de estatísticas da sessão.
func (c *Config) StatsInterval() time.Duration {
	if c.Session.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Session.IntervalSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.Device.BufferCount == 1 {
		return fmt.Errorf("buffer_count deve ser pelo menos 2, recebido %d", c.Device.BufferCount)
	}
	if c.Session.Enabled {
		switch c.Session.Protocol {
		case "amqp":
			if c.AMQP.AmqpURL == "" {
				return fmt.Errorf("session.protocol é amqp mas amqp.amqp_url está vazio")
			}
		case "mqtt":
			if c.MQTT.Broker == "" {
				return fmt.Errorf("session.protocol é mqtt mas mqtt.broker está vazio")
			}
		default:
			return fmt.Errorf("protocolo de sessão desconhecido: %q", c.Session.Protocol)
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

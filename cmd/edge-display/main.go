//go:build linux && (amd64 || arm64)

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/T3-Labs/edge-display/pkg/buffer"
	"github.com/T3-Labs/edge-display/pkg/config"
	"github.com/T3-Labs/edge-display/pkg/drm"
	"github.com/T3-Labs/edge-display/pkg/engine"
	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/mq"
	"github.com/T3-Labs/edge-display/pkg/negotiate"
	"github.com/T3-Labs/edge-display/pkg/sysmon"
	"github.com/T3-Labs/edge-display/pkg/v4l2"
)

type options struct {
	videoDevice string
	drmModule   string
	size        string
	format      string
	outFormat   string
	connectorID uint
	crtcID      uint
	source      string
	compose     string
	buffers     int
	timeoutSec  int
	dump        bool
	metricsAddr string
}

func main() {
	configFile := flag.String("config", "", "Caminho para o arquivo de configuração (opcional)")
	debug := flag.Bool("debug", false, "Logs de debug no console")

	var opts options
	flag.StringVar(&opts.videoDevice, "i", "", "Dispositivo de captura (ex: /dev/video0)")
	flag.StringVar(&opts.drmModule, "M", "", "Nome do driver drm (vazio aceita o primeiro)")
	flag.StringVar(&opts.size, "S", "", "Resolução de captura largura,altura")
	flag.StringVar(&opts.format, "f", "", "Formato fourcc de captura (ex: YUYV)")
	flag.StringVar(&opts.outFormat, "F", "", "Formato fourcc de saída, se diferente da captura")
	flag.UintVar(&opts.connectorID, "o", 0, "ID do conector de saída (0 = primeiro ativo)")
	flag.UintVar(&opts.crtcID, "crtc", 0, "ID da pipeline de varredura, junto com -o")
	flag.StringVar(&opts.source, "s", "", "Recorte do frame largura,altura@esquerda,topo")
	flag.StringVar(&opts.compose, "t", "", "Retângulo na tela largura,altura@esquerda,topo")
	flag.IntVar(&opts.buffers, "b", 0, "Quantidade de buffers compartilhados (mínimo 2)")
	flag.IntVar(&opts.timeoutSec, "timeout", 0, "Timeout de inatividade em segundos")
	flag.BoolVar(&opts.dump, "dump", false, "Lista saídas e planos e sai")
	flag.StringVar(&opts.metricsAddr, "metrics", "", "Endereço do servidor de métricas")
	flag.Parse()

	if err := logger.InitLogger(*debug); err != nil {
		log.Fatalf("erro ao inicializar logger: %v", err)
	}
	defer logger.Sync()

	cfg := &config.Config{}
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			logger.Log.Fatalw("Erro ao carregar config", "error", err, "config_file", *configFile)
		}
		cfg = loaded
		logger.Log.Infow("Configuração carregada", "config_file", *configFile)
	}
	mergeConfig(&opts, cfg)

	if err := run(&opts, cfg); err != nil {
		logger.Log.Errorw("Sessão encerrada com erro", "error", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Log.Info("Aplicação finalizada")
}

// mergeConfig resolve cada opção: flag explícita vence o arquivo, e o que
// sobrar zerado recebe o default.
func mergeConfig(opts *options, cfg *config.Config) {
	if opts.videoDevice == "" {
		opts.videoDevice = cfg.Device.VideoDevice
	}
	if opts.videoDevice == "" {
		opts.videoDevice = "/dev/video0"
	}
	if opts.drmModule == "" {
		opts.drmModule = cfg.Device.DRMModule
	}
	if opts.buffers == 0 {
		opts.buffers = cfg.Device.BufferCount
	}
	if opts.buffers == 0 {
		opts.buffers = 2
	}
	if opts.size == "" {
		opts.size = cfg.Geometry.Size
	}
	if opts.format == "" {
		opts.format = cfg.Geometry.Format
	}
	if opts.outFormat == "" {
		opts.outFormat = cfg.Geometry.OutFormat
	}
	if opts.source == "" {
		opts.source = cfg.Geometry.Source
	}
	if opts.compose == "" {
		opts.compose = cfg.Geometry.Compose
	}
	if opts.connectorID == 0 {
		opts.connectorID = uint(cfg.Output.ConnectorID)
	}
	if opts.crtcID == 0 {
		opts.crtcID = uint(cfg.Output.CRTCID)
	}
	if opts.timeoutSec == 0 {
		opts.timeoutSec = cfg.IdleTimeoutSeconds
	}
	if opts.metricsAddr == "" {
		opts.metricsAddr = cfg.Metrics.Address
	}
	if opts.metricsAddr == "" {
		opts.metricsAddr = ":9090"
	}
}

func buildRequest(opts *options) (negotiate.Request, geometry.Rect, geometry.Rect, error) {
	var req negotiate.Request
	var src, dst geometry.Rect

	if opts.size != "" {
		w, h, err := geometry.ParseSize(opts.size)
		if err != nil {
			return req, src, dst, err
		}
		req.Width, req.Height = w, h
	}
	if opts.format != "" {
		fcc, err := geometry.ParseFourCC(opts.format)
		if err != nil {
			return req, src, dst, err
		}
		req.Format = fcc
	}
	if opts.outFormat != "" {
		fcc, err := geometry.ParseFourCC(opts.outFormat)
		if err != nil {
			return req, src, dst, err
		}
		req.OutFormat = fcc
	}
	if opts.source != "" {
		r, err := geometry.ParseRect(opts.source)
		if err != nil {
			return req, src, dst, err
		}
		src = r
	}
	if opts.compose != "" {
		r, err := geometry.ParseRect(opts.compose)
		if err != nil {
			return req, src, dst, err
		}
		dst = r
	}
	req.OutputID = uint32(opts.connectorID)
	req.PipeID = uint32(opts.crtcID)
	return req, src, dst, nil
}

func run(opts *options, cfg *config.Config) error {
	req, src, dst, err := buildRequest(opts)
	if err != nil {
		return err
	}

	disp, err := drm.OpenByModule(opts.drmModule)
	if err != nil {
		return err
	}
	defer disp.Close()

	if opts.dump {
		return dumpCapabilities(disp)
	}

	prod, err := v4l2.Open(opts.videoDevice)
	if err != nil {
		return err
	}
	defer prod.Close()

	geo, err := negotiate.Format(prod, req)
	if err != nil {
		return err
	}

	target, err := negotiate.Target(disp, req, geo.DisplayFormat())
	if err != nil {
		return err
	}

	if src.IsZero() {
		src = geo.FullFrame()
	}
	dst = negotiate.ComposeRect(dst, target.Output)

	pool, err := buffer.NewPool(disp, disp, opts.buffers, geo)
	if err != nil {
		return err
	}
	defer pool.Destroy()

	if err := pool.RegisterAll(prod); err != nil {
		return err
	}
	if err := pool.QueueAll(prod); err != nil {
		return err
	}

	if err := prod.StreamOn(); err != nil {
		return err
	}
	defer func() {
		if err := prod.StreamOff(); err != nil {
			logger.Log.Warnw("Falha ao encerrar captura", "error", err)
		}
	}()

	idleTimeout := cfg.IdleTimeout()
	if opts.timeoutSec > 0 {
		idleTimeout = time.Duration(opts.timeoutSec) * time.Second
	}

	eng := engine.New(prod, disp, pool, &engine.PollSource{
		ProducerFd: prod.Fd(),
		DisplayFd:  disp.Fd(),
	}, engine.Config{
		VideoDevice: opts.videoDevice,
		IdleTimeout: idleTimeout,
		Target:      target,
		Source:      src,
		Compose:     dst,
	})

	go startMetricsServer(opts.metricsAddr)

	monitor, err := sysmon.NewMonitor(cfg.Monitor.MaxMemoryMB,
		time.Duration(cfg.Monitor.IntervalSeconds)*time.Second)
	if err != nil {
		return err
	}
	monitor.Start()
	defer monitor.Stop()

	reporter, err := newReporter(cfg, opts.videoDevice, eng)
	if err != nil {
		return err
	}
	if reporter != nil {
		reporter.Start()
		defer reporter.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Log.Infow("Recebido sinal de finalização, encerrando...", "signal", s.String())
		cancel()
	}()

	return eng.Run(ctx)
}

// newReporter monta o publisher de eventos de sessão conforme o protocolo
// configurado; retorna nil quando a publicação está desabilitada.
func newReporter(cfg *config.Config, videoDevice string, eng *engine.Engine) (*mq.Reporter, error) {
	if !cfg.Session.Enabled {
		return nil, nil
	}

	var pub mq.Publisher
	var err error
	switch cfg.Session.Protocol {
	case "mqtt":
		pub, err = mq.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
	default:
		pub, err = mq.NewAMQPPublisher(cfg.AMQP.AmqpURL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKeyPrefix)
	}
	if err != nil {
		return nil, err
	}

	snapshot := func() mq.StreamStats {
		stats := eng.Stats()
		return mq.StreamStats{
			FramesPresented: stats.FramesPresented,
			BuffersRequeued: stats.BuffersRequeued,
			DisplayEvents:   stats.DisplayEvents,
			CurrentBuffer:   stats.CurrentBuffer,
			UptimeSeconds:   stats.Uptime.Seconds(),
		}
	}
	return mq.NewReporter(pub, cfg.Session.Protocol, videoDevice, cfg.StatsInterval(), snapshot), nil
}

func dumpCapabilities(disp *drm.Device) error {
	outputs, err := disp.ListOutputs()
	if err != nil {
		return err
	}
	planes, err := disp.ListPlanes()
	if err != nil {
		return err
	}

	fmt.Println("Saídas:")
	for _, out := range outputs {
		state := "desconectada"
		if out.Active {
			state = "ativa"
		}
		fmt.Printf("  conector %d: pipe=%d (índice %d) %s modo=%s\n",
			out.ID, out.PipeID, out.PipeIndex, state, out.Mode.String())
	}

	fmt.Println("Planos:")
	for _, plane := range planes {
		fmt.Printf("  plano %d: pipes=%#x formatos=", plane.ID, plane.PossiblePipes)
		for i, f := range plane.Formats {
			if i > 0 {
				fmt.Print(",")
			}
			fmt.Print(f.String())
		}
		fmt.Println()
	}
	return nil
}

func startMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())

	logger.Log.Infow("Servidor de métricas iniciado", "address", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Log.Errorw("Erro no servidor de métricas", "error", err)
	}
}

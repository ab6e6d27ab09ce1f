package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/voice-persona-agents/agent/agents/orchestrator"
	llmx "github.com/tanpawarit/voice-persona-agents/agent/llm"
	"github.com/tanpawarit/voice-persona-agents/agent/persist"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	"github.com/tanpawarit/voice-persona-agents/agent/reasoning"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
	"github.com/tanpawarit/voice-persona-agents/agent/tool"
	"github.com/tanpawarit/voice-persona-agents/agent/transport"
	configx "github.com/tanpawarit/voice-persona-agents/pkg/config"
	_ "github.com/tanpawarit/voice-persona-agents/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
	openrouterx "github.com/tanpawarit/voice-persona-agents/pkg/openrouter"
	qstashx "github.com/tanpawarit/voice-persona-agents/pkg/qstash"
	"golang.org/x/sync/errgroup"
)

type AppConfig struct {
	ListenAddr      string        `split_words:"true" default:":8080"`
	DefaultPersona  string        `split_words:"true" default:"robert"`
	PersonaFile     string        `split_words:"true"`
	ReasonTimeout   time.Duration `split_words:"true" default:"20s"`
	ToolTimeout     time.Duration `split_words:"true" default:"5s"`
	FlushTimeout    time.Duration `split_words:"true" default:"10s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s"`
	MaxToolRounds   int           `split_words:"true" default:"3"`
	AllowedOrigins  []string      `split_words:"true"`
	SkipModelProbe  bool          `split_words:"true" default:"false"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("voice agents stopped")
	}
}

func (c AppConfig) Validate() error {
	if c.MaxToolRounds < 0 {
		return errors.New("max tool rounds must be >= 0")
	}
	for name, d := range map[string]time.Duration{
		"reason timeout":   c.ReasonTimeout,
		"tool timeout":     c.ToolTimeout,
		"flush timeout":    c.FlushTimeout,
		"shutdown timeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

func run() error {
	appCfg, err := configx.New[AppConfig]("APP")
	if err != nil {
		return err
	}
	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		return err
	}
	storeCfg, err := configx.New[persist.Config]("STORE")
	if err != nil {
		return err
	}
	qstashCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	personas, err := loadPersonas(appCfg)
	if err != nil {
		return err
	}

	backend, err := persist.Open(ctx, *storeCfg)
	if err != nil {
		return err
	}
	var gatewayOpts []persist.GatewayOption
	if qstashCfg.Enabled() {
		client, err := qstashx.NewClient(*qstashCfg)
		if err != nil {
			return err
		}
		notifier, err := persist.NewMilestoneNotifier(client, qstashCfg.Destination)
		if err != nil {
			return err
		}
		gatewayOpts = append(gatewayOpts, persist.WithNotifier(notifier))
	}
	gateway, err := persist.NewGateway(backend, gatewayOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	if !appCfg.SkipModelProbe {
		probeCfg := llmCfg.OpenRouterFor("")
		if err := openrouterx.Probe(ctx, openrouterx.NewClient(probeCfg), probeCfg.Model); err != nil {
			log.Warn().Err(err).Str("model", probeCfg.Model).Msg("model probe failed")
		}
	}

	metrics := metricsx.New("voice_agents")
	records := statex.NewDomainStore()

	dispatcher, err := tool.NewDispatcher(personas, records,
		tool.WithRecordLoader(gateway),
		tool.WithTimeout(appCfg.ToolTimeout),
		tool.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	reasoner, err := reasoning.New(reasoning.OpenRouterModels(*llmCfg))
	if err != nil {
		return err
	}

	hub := transport.NewHub()
	orch, err := orchestrator.New(orchestrator.Deps{
		Personas: personas,
		Records:  records,
		Sessions: statex.NewSessions(),
		Reasoner: reasoner,
		Tools:    dispatcher,
		Saver:    gateway,
		Sink:     hub,
		Metrics:  metrics,
	}, orchestrator.Config{
		ReasonTimeout: appCfg.ReasonTimeout,
		FlushTimeout:  appCfg.FlushTimeout,
		MaxToolRounds: appCfg.MaxToolRounds,
	})
	if err != nil {
		return err
	}

	server, err := transport.NewServer(orch, hub,
		transport.WithMetricsHandler(metrics.Handler()),
		transport.WithOriginPatterns(appCfg.AllowedOrigins...),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              appCfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Int("personas", len(personas.List())).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		orch.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func loadPersonas(cfg *AppConfig) (*persona.Registry, error) {
	if cfg.PersonaFile == "" {
		return persona.Load(cfg.DefaultPersona)
	}
	return persona.LoadFile(cfg.PersonaFile, cfg.DefaultPersona)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mitrdesk/mitr/internal/ai"
	"github.com/mitrdesk/mitr/internal/api"
	"github.com/mitrdesk/mitr/internal/channels"
	"github.com/mitrdesk/mitr/internal/config"
	"github.com/mitrdesk/mitr/internal/escalation"
	"github.com/mitrdesk/mitr/internal/jobqueue"
	"github.com/mitrdesk/mitr/internal/logging"
	"github.com/mitrdesk/mitr/internal/pipeline"
	"github.com/mitrdesk/mitr/internal/realtime"
	"github.com/mitrdesk/mitr/internal/store"
)

// ServeCommand returns the CLI command for starting the server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Mitr API server and job workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human-readable log output",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (trace, debug, info, warn, error)",
				Value: "info",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	logging.Setup(c.String("log-level"), c.Bool("pretty"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	ctx := context.Background()

	// Storage. A database gets the Postgres store; without one the
	// in-memory store runs (development only, state dies with the process).
	var (
		convStore store.ConversationStore
		userStore store.UserStore
		pgStore   *store.PostgresStore
	)
	if cfg.Database.URL != "" {
		pgStore, err = store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pgStore.Close()
		convStore, userStore = pgStore, pgStore
		log.Info().Msg("Using Postgres store")
	} else {
		mem := store.NewMemoryStore()
		convStore, userStore = mem, mem
		log.Warn().Msg("No database configured, using in-memory store")
	}

	// AI connector. Startup probes the model once; a failed probe keeps the
	// server up in fallback mode.
	var connector *ai.Connector
	if cfg.AI.APIKey != "" || cfg.AI.Provider == string(ai.ProviderOllama) {
		connector, err = ai.NewConnector(ctx, ai.ConnectorOptions{
			Provider:    ai.Provider(cfg.AI.Provider),
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			BaseURL:     cfg.AI.BaseURL,
			Temperature: cfg.AI.Temperature,
		})
		if err != nil {
			log.Error().Err(err).Msg("AI connector setup failed, replies fall back to canned responses")
			connector = nil
		} else {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if connector.TestConnection(probeCtx) {
				log.Info().Str("provider", cfg.AI.Provider).Msg("AI connection verified")
			} else {
				log.Warn().Str("provider", cfg.AI.Provider).Msg("AI connection test failed, replies may fall back")
			}
			cancel()
		}
	} else {
		log.Warn().Msg("No AI provider configured, replies fall back to canned responses")
	}

	generator := ai.NewGenerator(convStore, textGeneratorOrNil(connector))

	keywords := cfg.Escalation.Keywords
	if len(keywords) == 0 {
		keywords = escalation.DefaultKeywords
	}
	classifier := escalation.NewClassifier(keywords)
	if cfg.Escalation.UseAI && connector != nil {
		classifier = classifier.WithGenerator(connector)
	}

	registry := buildRegistry(cfg)
	hub := realtime.NewHub()

	pipe := pipeline.New(convStore, classifier, generator, registry, hub)

	queueCfg := jobqueue.DefaultQueueConfig()
	queueCfg.MaxWorkers = cfg.Queue.MaxWorkers

	var queue jobqueue.Queue
	switch cfg.Queue.Driver {
	case "river":
		queue, err = jobqueue.NewRiverQueue(pgStore.Pool(), pipe, queueCfg)
		if err != nil {
			return fmt.Errorf("failed to create river queue: %w", err)
		}
	default:
		queue = jobqueue.NewInProcessQueue(pipe, queueCfg)
	}
	pipe.BindQueue(queue)

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	log.Info().Str("driver", cfg.Queue.Driver).Int("workers", queueCfg.MaxWorkers).Msg("Job queue started")

	server := api.NewServer(api.ServerOptions{
		Port:      cfg.Server.Port,
		Store:     convStore,
		Users:     userStore,
		Pipeline:  pipe,
		Channels:  registry,
		Hub:       hub,
		Generator: generator,
		Connector: connector,
		JWTSecret: cfg.Auth.JWTSecret,
	})

	err = server.Start()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if qerr := queue.Stop(stopCtx); qerr != nil {
		log.Error().Err(qerr).Msg("Job queue shutdown error")
	}

	return err
}

// textGeneratorOrNil avoids handing the generator a typed-nil interface.
func textGeneratorOrNil(c *ai.Connector) ai.TextGenerator {
	if c == nil {
		return nil
	}
	return c
}

func buildRegistry(cfg *config.Config) *channels.Registry {
	adapters := []channels.Adapter{channels.NewWebsiteAdapter()}

	if cfg.Channels.WhatsApp.AccessToken != "" {
		adapters = append(adapters, channels.NewWhatsAppAdapter(cfg.Channels.WhatsApp))
		log.Info().Msg("WhatsApp channel configured")
	}
	if cfg.Channels.Instagram.AccessToken != "" {
		adapters = append(adapters, channels.NewInstagramAdapter(cfg.Channels.Instagram))
		log.Info().Msg("Instagram channel configured")
	}

	return channels.NewRegistry(adapters...)
}

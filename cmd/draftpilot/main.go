package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/api"
	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/logging"
	"github.com/draftpilot/draftpilot/internal/store"
	"github.com/draftpilot/draftpilot/internal/store/backend"
	"github.com/draftpilot/draftpilot/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		if err := config.LoadDotEnv(); err != nil {
			return config.Config{}, err
		}
		return config.Load(), nil
	}
	newLogger    = logging.New
	openStore    = backend.Open
	newGenerator = llm.NewGenerator
	dialTemporal = client.Dial
	newServer    = func(st store.Store, broker *events.Broker, workflows api.WorkflowService, generator llm.Generator, cfg config.Config, opts ...api.Option) server {
		return api.NewServer(st, broker, workflows, generator, cfg, opts...)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	credential, err := cfg.Credential()
	if err != nil {
		return fmt.Errorf("resolve generator credential: %w", err)
	}
	if credential == "" {
		logger.Warn("no server credential configured; requests must send " + api.CredentialHeader)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	generator, err := newGenerator(llm.Config{
		Provider:              cfg.GeneratorProvider,
		BaseURL:               cfg.GeneratorBaseURL,
		GeneratePath:          cfg.GeneratorGeneratePath,
		StreamPath:            cfg.GeneratorStreamPath,
		Model:                 cfg.GeneratorModel,
		Temperature:           cfg.GeneratorTemperature,
		MaxOutputTokens:       cfg.GeneratorMaxOutputTokens,
		StreamMaxOutputTokens: cfg.GeneratorStreamMaxOutputTokens,
		Timeout:               cfg.GeneratorTimeout,
		MaxRetries:            cfg.GeneratorMaxRetries,
		Logger:                logger.Named("generator"),
	})
	if err != nil {
		return err
	}

	var workflowService api.WorkflowService
	if cfg.TemporalEnabled {
		workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return err
		}
		if workflowClient != nil {
			defer workflowClient.Close()
		}
		workflowService = workflows.NewService(workflowClient, cfg.TemporalTaskQueue)
	}

	srv := newServer(st, events.NewBroker(), workflowService, generator, cfg,
		api.WithLogger(logger),
		api.WithCredential(credential),
	)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("draftpilot listening",
		zap.String("addr", addr),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("temporal", cfg.TemporalEnabled),
	)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

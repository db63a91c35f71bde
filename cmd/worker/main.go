package main

import (
	"context"
	"fmt"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/logging"
	"github.com/draftpilot/draftpilot/internal/store/backend"
	"github.com/draftpilot/draftpilot/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		if err := config.LoadDotEnv(); err != nil {
			return config.Config{}, err
		}
		return config.Load(), nil
	}
	newLogger       = logging.New
	dialTemporal    = client.Dial
	openStore       = backend.Open
	newGenerator    = llm.NewGenerator
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
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

	credential, err := cfg.Credential()
	if err != nil {
		return fmt.Errorf("resolve generator credential: %w", err)
	}

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, closeStore, err := openStore(context.Background(), cfg)
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

	activities := workflows.NewDraftActivities(generator, st,
		workflows.WithCredential(credential),
		workflows.WithLogger(logger.Named("activities")),
	)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.DraftWorkflow)
	w.RegisterActivity(activities)

	logger.Info("draftpilot worker started", zap.String("task_queue", cfg.TemporalTaskQueue), zap.String("store", cfg.StoreBackend))
	return w.Run(workerInterrupt())
}

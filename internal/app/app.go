package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"pulsecheck/internal/agent"
	"pulsecheck/internal/config"
	"pulsecheck/internal/httpapi"
	"pulsecheck/internal/httpx"
	"pulsecheck/internal/integrations/llm"
	slackbot "pulsecheck/internal/integrations/slack"
	"pulsecheck/internal/logging"
	"pulsecheck/internal/retention"
	"pulsecheck/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// App holds the pieces shared by every command.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Orchestrator *agent.Orchestrator
	// HTTPClient carries every outbound call: model provider and Slack.
	HTTPClient *http.Client
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	httpClient := httpx.NewExternalClient(cfg.ExternalHTTPTimeout())
	logger.Info("config loaded",
		zap.String("team", cfg.TeamName),
		zap.String("timezone", cfg.Timezone),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("llm_model", cfg.LLMModel),
		zap.Float64("llm_rps", cfg.LLMRequestsPerSecond),
		zap.Bool("followup_always_generate", cfg.FollowupAlwaysGenerate),
		zap.Duration("external_http_timeout", httpClient.Timeout),
	)

	gen, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLMProvider,
		Model:       cfg.LLMModel,
		APIKey:      cfg.APIKey(),
		BaseURL:     cfg.LLMBaseURL,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("llm generator: %w", err)
	}
	gen = llm.RateLimited(gen, cfg.LLMRequestsPerSecond, 1)

	return &App{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: httpClient,
		Orchestrator: agent.NewOrchestrator(gen, agent.Options{
			AlwaysGenerateFollowups: cfg.FollowupAlwaysGenerate,
			Logger:                  logger,
			Metrics:                 agent.NewMetrics(),
		}),
	}, nil
}

// Serve runs the HTTP API, the optional Slack notifier and the retention
// schedule until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer store.Close()
	a.Logger.Info("database initialized", zap.String("path", cfg.DBPath))

	if cfg.ReportOutputDir != "" {
		if err := os.MkdirAll(cfg.ReportOutputDir, 0755); err != nil {
			return fmt.Errorf("report output dir: %w", err)
		}
	}

	var notifier httpapi.Notifier
	if cfg.SlackConfigured() {
		n, err := slackbot.NewNotifier(cfg.SlackBotToken, cfg.ReportChannelID, a.HTTPClient, a.Logger)
		if err != nil {
			return err
		}
		notifier = n
		a.Logger.Info("slack report posting enabled", zap.String("channel", cfg.ReportChannelID))
	} else {
		a.Logger.Info("slack report posting disabled (slack_bot_token or report_channel_id not set)")
	}

	if cfg.RetentionEnabled() {
		sched, err := retention.New(store, cfg.RetentionDays, cfg.RetentionSchedule, cfg.Location, a.Logger)
		if err != nil {
			return err
		}
		sched.Start(ctx)
	} else {
		a.Logger.Info("retention disabled (retention_days not set)")
	}

	server, err := httpapi.NewServer(a.Orchestrator, store, notifier, a.Logger, httpapi.Config{
		Addr:         cfg.HTTPAddr,
		TurnTimeout:  cfg.TurnTimeout(),
		DedupeWindow: cfg.DedupeWindow(),
		TeamName:     cfg.TeamName,
		Location:     cfg.Location,
		ReportDir:    cfg.ReportOutputDir,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

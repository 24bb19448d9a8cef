// cmd/retriever-agent/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"retriever-agent/internal/common/auth"
	"retriever-agent/internal/common/aws"
	"retriever-agent/internal/common/camunda"
	"retriever-agent/internal/common/config"
	"retriever-agent/internal/common/database"
	httpclient "retriever-agent/internal/common/http"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/common/observability"
	"retriever-agent/internal/common/validation"
	"retriever-agent/internal/listeners"
	"retriever-agent/internal/retriever"
	"retriever-agent/internal/search/keyword"
	"retriever-agent/internal/search/vector"
	"retriever-agent/internal/search/web"
	"retriever-agent/internal/server"
	rs "retriever-agent/internal/workers/retrieval/retriever-search"
	"retriever-agent/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console", "stdout")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting retriever agent...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New(cfg.Observability.ServiceName, nil)
	defer obs.Shutdown()

	tracing, err := observability.NewTracing(observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
	})
	if err != nil {
		zapLog.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	checks := map[string]server.Check{}
	var backends retriever.Backends

	// --- Vector backend: PostgreSQL + pgvector, OpenAI embeddings ---
	if cfg.Database.Postgres.Enabled() {
		var pg *database.PostgresClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				pg.Close()
				return err
			}
			return nil
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		if err := pg.EnsureVectorExtension(ctx); err != nil {
			zapLog.Warn("pgvector check failed", zap.Error(err))
		}

		embedder, err := vector.NewOpenAIEmbedder(cfg.APIs.OpenAI.APIKey,
			vector.WithEmbeddingModel(cfg.APIs.OpenAI.EmbeddingModel),
			vector.WithEmbeddingDimension(cfg.APIs.OpenAI.EmbeddingDimension),
			vector.WithBaseURL(cfg.APIs.OpenAI.BaseURL),
			vector.WithRequestTimeout(config.GetDuration(cfg.APIs.OpenAI.Timeout)),
		)
		if err != nil {
			zapLog.Warn("vector search disabled", zap.Error(err))
		} else {
			vb, err := vector.NewBackend(pg.DB, embedder, cfg.Database.Postgres.Table, log)
			if err != nil {
				zapLog.Fatal("vector backend setup failed", zap.Error(err))
			}
			backends.Vector = vb
			checks["postgres"] = vb.Ping
			zapLog.Info("Vector backend ready", zap.String("table", cfg.Database.Postgres.Table))
		}
	}

	// --- Keyword backend: Elasticsearch ---
	if len(cfg.Database.Elasticsearch.GetAddresses()) > 0 {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}

		if ok, err := esClient.IndexExists(ctx, cfg.Database.Elasticsearch.Index); err != nil || !ok {
			zapLog.Warn("search index not available yet",
				zap.String("index", cfg.Database.Elasticsearch.Index),
				zap.Error(err),
			)
		}

		kb := keyword.NewBackend(esClient.Client, cfg.Database.Elasticsearch.Index, log)
		backends.Keyword = kb
		checks["elasticsearch"] = kb.Ping
		zapLog.Info("Keyword backend ready", zap.String("index", cfg.Database.Elasticsearch.Index))
	}

	// --- Web backend ---
	if cfg.APIs.WebSearch.APIKey != "" && cfg.APIs.WebSearch.EngineID != "" {
		timeout := config.GetDuration(cfg.APIs.WebSearch.Timeout)
		backends.Web = web.NewBackend(web.Config{
			BaseURL:  cfg.APIs.WebSearch.BaseURL,
			APIKey:   cfg.APIs.WebSearch.APIKey,
			EngineID: cfg.APIs.WebSearch.EngineID,
			Timeout:  timeout,
		}, httpclient.NewClient(timeout), log)
		zapLog.Info("Web backend ready")
	}

	agent := retriever.New(backends, retriever.Options{
		Name:          cfg.Retriever.Name,
		DisableEvents: cfg.Retriever.DisableEvents,
		Selector: retriever.SelectorConfig{
			DefaultLimit:   cfg.Retriever.DefaultLimit,
			ScoreThreshold: cfg.Retriever.ScoreThreshold,
			RewriteSuffix:  cfg.Retriever.RewriteSuffix,
		},
		Timeouts: retriever.Timeouts{
			Vector:  config.GetDuration(cfg.Retriever.VectorTimeout),
			Keyword: config.GetDuration(cfg.Retriever.KeywordTimeout),
			Web:     config.GetDuration(cfg.Retriever.WebTimeout),
		},
	}, log.Named("retriever"))

	// --- Event listeners ---
	agent.On(retriever.AllEvents, listeners.Logging(log.Named("events")))
	agent.On(retriever.AllEvents, listeners.Metrics(obs))

	if cfg.Events.Redis.Enabled {
		var rc *database.RedisClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			rc, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rc.Ping(ctx); err != nil {
				rc.Close()
				return err
			}
			return nil
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rc.Close()

		pub := listeners.NewRedisPublisher(rc.Client, cfg.Events.Redis.Channel)
		agent.On(retriever.AllEvents, pub.Handle)
		checks["redis"] = rc.Ping
		zapLog.Info("Redis event publisher ready", zap.String("channel", pub.Channel()))
	}

	if cfg.Events.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Events.SNS.Region)
		if err != nil {
			zapLog.Fatal("sns client setup failed", zap.Error(err))
		}
		alerter := listeners.NewAlerter(snsClient, listeners.AlertConfig{
			TopicARN:          cfg.Events.SNS.TopicARN,
			FallbackThreshold: cfg.Events.SNS.FallbackThreshold,
			Window:            config.GetDuration(cfg.Events.SNS.Window),
		}, log.Named("alerts"))
		agent.On(retriever.EventRetrievalError, alerter.Handle)
		agent.On(retriever.EventFallbackActivated, alerter.Handle)
		zapLog.Info("SNS alerting ready")
	}

	// --- Zeebe job worker ---
	var jobWorker *camunda.CamundaWorker
	if cfg.Camunda.BrokerAddress != "" && config.IsWorkerEnabled(cfg, rs.TaskType) {
		zc, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
		}, log.Named("camunda"))
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zc.Close()

		wcfg := config.GetWorkerConfig(cfg, rs.TaskType)
		hcfg := rs.LoadConfig()
		if wcfg.Timeout > 0 {
			hcfg.Timeout = config.GetDuration(wcfg.Timeout)
		}
		hcfg.FailOnError = wcfg.FailOnError
		handler, err := rs.NewHandler(hcfg, agent, obs, log)
		if err != nil {
			zapLog.Fatal("failed to create retriever-search handler", zap.Error(err))
		}

		jobWorker = camunda.NewWorker(zc.GetClient(), rs.TaskType, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, handler.Handle, log)
		checks["zeebe"] = zc.HealthCheck
	}

	// --- HTTP server ---
	reg, err := registry.Default()
	if err != nil {
		zapLog.Fatal("activity registry unavailable", zap.Error(err))
	}
	activity, err := reg.ByTaskType(rs.TaskType)
	if err != nil {
		zapLog.Fatal("activity registry incomplete", zap.Error(err))
	}
	validator, err := validation.NewValidator(activity.InputSchema)
	if err != nil {
		zapLog.Fatal("input schema invalid", zap.Error(err))
	}

	srvCfg := server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:    config.GetDuration(cfg.Server.WriteTimeout),
		ShutdownTimeout: config.GetDuration(cfg.Server.ShutdownTimeout),
	}
	if cfg.Auth.Enabled {
		srvCfg.Auth = auth.NewKeycloakClient(cfg.Auth.KeycloakURL, cfg.Auth.Realm, cfg.Auth.ClientID, cfg.Auth.ClientSecret,
			httpclient.NewClient(config.GetDuration(cfg.Auth.Timeout)))
		zapLog.Info("Keycloak token introspection enabled", zap.String("realm", cfg.Auth.Realm))
	}

	srv := server.New(srvCfg, agent, validator, checks, log)

	if err := srv.Run(ctx); err != nil {
		zapLog.Error("HTTP server failed", zap.Error(err))
	}

	zapLog.Info("Shutdown signal received, stopping...")
	if jobWorker != nil {
		jobWorker.Stop()
	}
	zapLog.Info("Retriever agent stopped gracefully")
}

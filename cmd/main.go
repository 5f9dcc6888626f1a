package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"quickstart-agent/handler"
	"quickstart-agent/internal/agent"
	"quickstart-agent/internal/app"
	"quickstart-agent/internal/auth"
	"quickstart-agent/internal/integrations/connector"
	"quickstart-agent/internal/integrations/paramstore"
	"quickstart-agent/internal/repository"
)

func main() {
	ctx := context.Background()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	onLambda := os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""
	logger := newLogger(onLambda, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	clientID := strings.TrimSpace(os.Getenv("CLIENT_ID"))
	tenantID := strings.TrimSpace(os.Getenv("TENANT_ID"))
	paramPrefix := os.Getenv("PARAM_PREFIX")
	transcriptTable := os.Getenv("TRANSCRIPT_TABLE")
	transcriptTTL := time.Duration(envInt("TRANSCRIPT_TTL_DAYS", 30)) * 24 * time.Hour
	jwksURLs := envList("JWKS_URLS", auth.DefaultJWKSURLs)
	port := envString("PORT", "3978")

	if clientID != "" && strings.TrimSpace(paramPrefix) == "" {
		fatal("PARAM_PREFIX is required when CLIENT_ID is set")
	}

	// ---- AWS SDK config (only when an AWS-backed feature is enabled) ----
	var cfg aws.Config
	if clientID != "" || transcriptTable != "" {
		var err error
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			fatal("failed to load AWS config", "err", err)
		}
	}

	// ---- Clients ----
	var secrets connector.Getter
	if clientID != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
		if err != nil {
			fatal("failed to create SSM client", "err", err)
		}
		secrets = ssmClient
	}
	connectorClient, err := connector.NewClient(clientID, secrets, connector.WithTenant(tenantID))
	if err != nil {
		fatal("failed to create connector client", "err", err)
	}

	var appOpts []app.Option
	if transcriptTable != "" {
		store, err := repository.New(awsdynamodb.NewFromConfig(cfg), transcriptTable, repository.WithTTL(transcriptTTL))
		if err != nil {
			fatal("failed to create transcript store", "err", err)
		}
		appOpts = append(appOpts, app.WithTranscript(store))
	}

	var verifier auth.TokenVerifier = auth.Anonymous{}
	if clientID != "" {
		v, err := auth.NewJWKSVerifier(ctx, jwksURLs, clientID, auth.WithTenant(tenantID))
		if err != nil {
			fatal("failed to create token verifier", "err", err)
		}
		verifier = v
	} else {
		logger.Warn("CLIENT_ID not set; accepting anonymous requests")
	}

	// ---- Application ----
	application, err := app.New(connectorClient, logger, appOpts...)
	if err != nil {
		fatal("failed to create application", "err", err)
	}
	if _, err := agent.New(application, logger); err != nil {
		fatal("failed to register agent", "err", err)
	}

	h, err := handler.NewHandler(application, verifier)
	if err != nil {
		fatal("failed to create handler", "err", err)
	}
	h.WithLogger(logger)

	if onLambda {
		lambda.Start(h.Handle)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/api/messages", h)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("server stopped", "err", err)
	}
}

func newLogger(jsonOutput bool, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

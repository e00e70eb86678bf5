package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/lhj1982/hotel-chatbot/handler"
	"github.com/lhj1982/hotel-chatbot/internal/integrations/coreapi"
	"github.com/lhj1982/hotel-chatbot/internal/integrations/paramstore"
	"github.com/lhj1982/hotel-chatbot/internal/repository"
	"github.com/lhj1982/hotel-chatbot/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 2000)
	maxSessions := envInt("MAX_SESSIONS", 1000)
	defaultTimeout := envDuration("SEND_TIMEOUT", 30*time.Second)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	settings, err := ssmClient.LoadCoreAPISettings(ctx, paramPrefix, defaultTimeout)
	if err != nil {
		slog.Error("failed to load core API settings", "err", err)
		os.Exit(1)
	}

	coreClient, err := coreapi.NewClient(settings.BaseURL,
		coreapi.WithHTTPClient(&http.Client{Timeout: settings.SendTimeout}),
	)
	if err != nil {
		slog.Error("failed to create core API client", "err", err)
		os.Exit(1)
	}

	dynamoStore, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state store", "err", err)
		os.Exit(1)
	}
	snapshots := repository.NewSnapshotStore(dynamoStore)

	// ---- Handler ----
	sessions, err := usecase.NewSessionService(coreClient, snapshots, usecase.ServiceOptions{
		SendTimeout:   settings.SendTimeout,
		MaxMessageLen: maxMessageLen,
		MaxSessions:   maxSessions,
	})
	if err != nil {
		slog.Error("failed to create session service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(sessions)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting", "table", stateTable, "send_timeout", settings.SendTimeout.String())
	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
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

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

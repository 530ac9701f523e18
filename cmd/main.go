package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"wattsup/handler"
	"wattsup/internal/artifact"
	"wattsup/internal/billing"
	"wattsup/internal/intent"
	"wattsup/internal/integrations/openai"
	"wattsup/internal/integrations/paramstore"
	"wattsup/internal/repository"
	"wattsup/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	artifactBucket := os.Getenv("ARTIFACT_BUCKET")
	artifactPrefix := os.Getenv("ARTIFACT_PREFIX")
	artifactDir := os.Getenv("ARTIFACT_DIR")
	regressionName := envString("REGRESSION_ARTIFACT", "bill_model.json")
	classifierName := envString("CLASSIFIER_ARTIFACT", "intent_model.json")
	stateTable := os.Getenv("STATE_TABLE")
	sessionTTL := envDuration("SESSION_TTL", 24*time.Hour)
	fallbackBaseURL := envString("FALLBACK_BASE_URL", openai.DefaultBaseURL)
	fallbackTimeout := envDuration("FALLBACK_TIMEOUT", 8*time.Second)
	maxContextItems := envInt("MAX_CONTEXT_ITEMS", 20)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 0)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Artifacts (loaded once, immutable) ----
	source, err := artifactSource(cfg, artifactBucket, artifactPrefix, artifactDir)
	if err != nil {
		slog.Error("failed to create artifact source", "err", err)
		os.Exit(1)
	}
	billModel, err := artifact.LoadBillModel(ctx, source, regressionName)
	if err != nil {
		slog.Error("failed to load bill model", "artifact", regressionName, "err", err)
		os.Exit(1)
	}
	if billModel == nil {
		slog.Warn("bill model not found; predictions will report MODEL_UNAVAILABLE", "artifact", regressionName)
	}
	classifier, err := artifact.LoadClassifier(ctx, source, classifierName)
	if err != nil {
		slog.Error("failed to load intent classifier", "artifact", classifierName, "err", err)
		os.Exit(1)
	}
	table, err := intent.DefaultResponseTable()
	if err != nil {
		slog.Error("failed to load response table", "err", err)
		os.Exit(1)
	}
	if err := table.Covers(classifier.Classes()); err != nil {
		slog.Error("classifier labels do not match response table", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	fallbackOpts := []openai.Option{
		openai.WithParamStore(ssmClient, paramPrefix),
		openai.WithBaseURL(fallbackBaseURL),
	}
	if prompt := systemPrompt(ctx, ssmClient, paramPrefix); prompt != "" {
		fallbackOpts = append(fallbackOpts, openai.WithSystemPrompt(prompt))
	}
	fallback, err := openai.NewClient(fallbackOpts...)
	if err != nil {
		slog.Error("failed to create fallback client", "err", err)
		os.Exit(1)
	}

	store, err := sessionStore(cfg, stateTable, sessionTTL)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	router, err := intent.NewRouter(table, fallback, intent.WithFallbackTimeout(fallbackTimeout))
	if err != nil {
		slog.Error("failed to create reply router", "err", err)
		os.Exit(1)
	}
	predictService, err := usecase.NewPredictService(billing.NewEstimator(billModel), store)
	if err != nil {
		slog.Error("failed to create predict service", "err", err)
		os.Exit(1)
	}
	chatService, err := usecase.NewChatService(classifier, router, store, maxMessageLen, maxContextItems)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(predictService, chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func artifactSource(cfg aws.Config, bucket, prefix, dir string) (artifact.Source, error) {
	if bucket != "" {
		return artifact.NewS3Source(awss3.NewFromConfig(cfg), bucket, prefix)
	}
	if dir != "" {
		return artifact.NewDirSource(dir)
	}
	return nil, errors.New("one of ARTIFACT_BUCKET or ARTIFACT_DIR must be set")
}

func sessionStore(cfg aws.Config, table string, ttl time.Duration) (usecase.SessionStore, error) {
	if table == "" {
		slog.Info("STATE_TABLE not set; keeping sessions in memory")
		return repository.NewMemory(ttl), nil
	}
	return repository.New(awsdynamodb.NewFromConfig(cfg), table, ttl)
}

// systemPrompt reads the optional fallback system prompt. A missing
// parameter is normal; other failures are logged and ignored.
func systemPrompt(ctx context.Context, ps *paramstore.Client, prefix string) string {
	prompt, err := ps.GetParameter(ctx, prefix+"/config/system_prompt")
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if !errors.As(err, &notFound) {
			slog.Warn("failed to read fallback system prompt", "err", err)
		}
		return ""
	}
	return strings.TrimSpace(prompt)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
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

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

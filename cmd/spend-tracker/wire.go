package main

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/spend-tracker/internal/classify"
	"github.com/zombor/spend-tracker/internal/inference"
	"github.com/zombor/spend-tracker/internal/metrics"
	"github.com/zombor/spend-tracker/internal/pipeline"
	"github.com/zombor/spend-tracker/internal/receipt"
	"github.com/zombor/spend-tracker/internal/scanning"
)

type config struct {
	userID string

	dbBackend    string
	dbPath       string
	dynamoTable  string
	dynamoIndex  string
	storeBackend string
	storagePath  string
	s3Bucket     string
	s3Prefix     string
	s3Endpoint   string
	s3PathStyle  bool
	awsRegion    string
	awsAccessKey string
	awsSecretKey string
	awsEndpoint  string
	awsConfig    *aws.Config

	model            string
	bedrockModel     string
	geminiKey        string
	geminiModel      string
	ollamaURL        string
	ollamaModel      string
	categories       string
	catchAll         string
	responseFields   string
	dateFallback     string
	inferenceTimeout time.Duration
	contentType      string
	metricsFile      string
}

func (c *config) registerStoreFlags(fs *ff.FlagSet) {
	fs.StringVar(&c.userID, 0, "user", "default", "user the receipts belong to")
	fs.StringVar(&c.dbBackend, 0, "db-backend", "bolt", "record store: 'bolt' or 'dynamodb'")
	fs.StringVar(&c.dbPath, 0, "db", "spend-tracker.db", "BoltDB file path")
	fs.StringVar(&c.dynamoTable, 0, "dynamodb-table", "ReceiptsTable", "DynamoDB table name")
	fs.StringVar(&c.dynamoIndex, 0, "dynamodb-index", receipt.DefaultUserIndex, "DynamoDB index on user and date")
	fs.StringVar(&c.storeBackend, 0, "storage-backend", "local", "file store: 'local' or 's3'")
	fs.StringVar(&c.storagePath, 0, "storage", "./receipts", "local storage directory path")
	fs.StringVar(&c.s3Bucket, 0, "s3-bucket", "", "S3 bucket for receipt files")
	fs.StringVar(&c.s3Prefix, 0, "s3-prefix", "receipts", "S3 key prefix")
	fs.StringVar(&c.s3Endpoint, 0, "s3-endpoint", "", "custom S3 endpoint, e.g. R2 or MinIO")
	fs.BoolVar(&c.s3PathStyle, 0, "s3-path-style", "use path style S3 addressing")
	fs.StringVar(&c.awsRegion, 0, "aws-region", "", "AWS region (defaults to the SDK chain)")
	fs.StringVar(&c.awsAccessKey, 0, "aws-access-key", "", "static AWS access key (optional)")
	fs.StringVar(&c.awsSecretKey, 0, "aws-secret-key", "", "static AWS secret key (optional)")
	fs.StringVar(&c.awsEndpoint, 0, "aws-endpoint", "", "endpoint override for all AWS services, e.g. LocalStack")
}

func (c *config) registerProcessFlags(fs *ff.FlagSet) {
	fs.StringVar(&c.model, 0, "model", "bedrock", "inference backend: 'bedrock', 'gemini' or 'ollama'")
	fs.StringVar(&c.bedrockModel, 0, "bedrock-model", "amazon.titan-text-express-v1", "Bedrock model ID")
	fs.StringVar(&c.geminiKey, 0, "gemini-key", "", "Google Gemini API key")
	fs.StringVar(&c.geminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&c.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&c.ollamaModel, 0, "ollama-model", "llama3.2", "Ollama model name")
	fs.StringVar(&c.categories, 0, "categories", strings.Join(classify.DefaultCategories, ","), "comma separated category labels, in tie-break order")
	fs.StringVar(&c.catchAll, 0, "catch-all", classify.DefaultCatchAll, "category used when the model is unsure")
	fs.StringVar(&c.responseFields, 0, "response-fields", strings.Join(classify.DefaultFieldNames, ","), "comma separated JSON keys that may carry the category")
	fs.StringVar(&c.dateFallback, 0, "date-fallback", string(receipt.FallbackToday), "unreadable dates: 'today' or 'reject'")
	fs.DurationVar(&c.inferenceTimeout, 0, "inference-timeout", inference.DefaultGuardConfig().Timeout, "timeout per inference call")
	fs.StringVar(&c.contentType, 0, "content-type", "", "content type of the files (detected when empty)")
	fs.StringVar(&c.metricsFile, 0, "metrics-file", "", "write pipeline metrics to this textfile")
}

// loadAWS builds one SDK config shared by every AWS client
func (c *config) loadAWS(ctx context.Context) (aws.Config, error) {
	if c.awsConfig != nil {
		return *c.awsConfig, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if c.awsRegion != "" {
		opts = append(opts, awsconfig.WithRegion(c.awsRegion))
	}
	if c.awsAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.awsAccessKey, c.awsSecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if c.awsEndpoint != "" {
		cfg.BaseEndpoint = aws.String(c.awsEndpoint)
	}

	c.awsConfig = &cfg
	return cfg, nil
}

func (c *config) openDB(ctx context.Context) (receipt.DB, error) {
	switch c.dbBackend {
	case "bolt":
		slog.Info("Initializing database...", "path", c.dbPath)
		return receipt.NewBoltDB(c.dbPath)
	case "dynamodb":
		cfg, err := c.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("Initializing DynamoDB...", "table", c.dynamoTable, "index", c.dynamoIndex)
		return receipt.NewDynamoDB(dynamodb.NewFromConfig(cfg), c.dynamoTable, c.dynamoIndex), nil
	}
	return nil, fmt.Errorf("invalid db backend %q, want bolt or dynamodb", c.dbBackend)
}

func (c *config) openStorage(ctx context.Context) (receipt.Storage, error) {
	switch c.storeBackend {
	case "local":
		slog.Info("Initializing storage...", "path", c.storagePath)
		return receipt.NewLocalStorage(c.storagePath)
	case "s3":
		if c.s3Bucket == "" {
			return nil, fmt.Errorf("--s3-bucket is required for s3 storage")
		}
		cfg, err := c.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("Initializing S3 storage...", "bucket", c.s3Bucket, "prefix", c.s3Prefix)
		client := s3.NewFromConfig(cfg, receipt.S3Options(c.s3Endpoint, c.s3PathStyle))
		return receipt.NewS3Storage(client, c.s3Bucket, c.s3Prefix), nil
	}
	return nil, fmt.Errorf("invalid storage backend %q, want local or s3", c.storeBackend)
}

func (c *config) openModel(ctx context.Context) (inference.Model, error) {
	var model inference.Model
	switch c.model {
	case "bedrock":
		cfg, err := c.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("Initializing Bedrock model...", "model", c.bedrockModel)
		bedrock, err := inference.NewBedrock(bedrockruntime.NewFromConfig(cfg), c.bedrockModel)
		if err != nil {
			return nil, err
		}
		model = bedrock
	case "gemini":
		slog.Info("Initializing Gemini model...", "model", c.geminiModel)
		gemini, err := inference.NewGemini(ctx, c.geminiKey, c.geminiModel)
		if err != nil {
			return nil, err
		}
		model = gemini
	case "ollama":
		slog.Info("Initializing Ollama model...", "url", c.ollamaURL, "model", c.ollamaModel)
		model = inference.NewOllama(c.ollamaURL, c.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid model %q, want bedrock, gemini or ollama", c.model)
	}

	guard := inference.DefaultGuardConfig()
	guard.Timeout = c.inferenceTimeout
	return inference.NewGuarded(c.model, model, guard), nil
}

// splitList splits a comma separated flag value, dropping blanks
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (c *config) categorySet() (classify.CategorySet, error) {
	return classify.NewCategorySet(c.catchAll, splitList(c.categories)...)
}

func (c *config) parser(set classify.CategorySet) (*classify.Parser, error) {
	fields := splitList(c.responseFields)
	if len(fields) == 0 {
		return nil, fmt.Errorf("--response-fields needs at least one field name")
	}
	return classify.NewParser(set, classify.WithFieldNames(fields...)), nil
}

// withService opens the stores for commands that only read or delete
func withService(ctx context.Context, c *config, fn func(*receipt.Service) error) error {
	db, err := c.openDB(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	store, err := c.openStorage(ctx)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	return fn(receipt.NewService(db, nil, nil, store))
}

// withProcessingService also wires the analyzer and the classification pipeline
func withProcessingService(ctx context.Context, c *config, m *metrics.Pipeline, fn func(*receipt.Service) error) error {
	fallback, err := receipt.ParseDateFallback(c.dateFallback)
	if err != nil {
		return err
	}
	set, err := c.categorySet()
	if err != nil {
		return fmt.Errorf("invalid categories: %w", err)
	}
	parser, err := c.parser(set)
	if err != nil {
		return err
	}

	awsCfg, err := c.loadAWS(ctx)
	if err != nil {
		return err
	}
	analyzer := scanning.NewTextract(textract.NewFromConfig(awsCfg))

	model, err := c.openModel(ctx)
	if err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}
	defer model.Close()

	db, err := c.openDB(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	store, err := c.openStorage(ctx)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	orchestrator := pipeline.New(model, set, pipeline.WithParser(parser), pipeline.WithMetrics(m))
	svc := receipt.NewService(db, analyzer, orchestrator, store, receipt.WithDateFallback(fallback))
	return fn(svc)
}

var extraTypes = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

func detectContentType(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		mediaType, _, err := mime.ParseMediaType(t)
		if err == nil {
			return mediaType
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}

package config

import (
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/markdave123-py/pdfchat/internal/core/chunker"
)

// FileEnv names the optional YAML file whose KEY: value pairs sit between
// the built-in defaults and the process environment.
const FileEnv = "PDFCHAT_CONFIG_FILE"

type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:8888"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SslCertPath string `env:"SSL_CERT_PATH"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"local"`
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"uploads"`
	AwsAccessKey   string `env:"AWS_ACCESS_KEY"`
	AwsSecretKey   string `env:"AWS_SECRET_KEY"`
	AwsRegion      string `env:"AWS_REGION" envDefault:"us-east-2"`
	BucketName     string `env:"BUCKET_NAME" envDefault:"pdfchat-docs"`

	VectorBackend string `env:"VECTOR_BACKEND" envDefault:"pgvector"`
	ChromemPath   string `env:"CHROMEM_PATH" envDefault:"data/chromem"`

	EmbedProvider string `env:"EMBED_PROVIDER" envDefault:"ollama"`
	LLMProvider   string `env:"LLM_PROVIDER" envDefault:"ollama"`
	OllamaBaseURL string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	EmbedModel    string `env:"EMBED_MODEL" envDefault:"nomic-embed-text"`
	EmbedDim      int    `env:"EMBED_DIM" envDefault:"768"`
	GenModel      string `env:"GEN_MODEL" envDefault:"llama3.2:3b"`
	AIAPIKey      string `env:"GEMINI_API_KEY"`

	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"500"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"100"`
	BatchSize    int `env:"BATCH_SIZE" envDefault:"5"`

	EmbedBatchSize   int           `env:"EMBED_BATCH_SIZE" envDefault:"2"`
	EmbedConcurrency int           `env:"EMBED_CONCURRENCY" envDefault:"2"`
	EmbedTimeout     time.Duration `env:"EMBED_TIMEOUT" envDefault:"30s"`
	EmbedRetries     int           `env:"EMBED_RETRIES" envDefault:"3"`
	EmbedBackoffBase time.Duration `env:"EMBED_BACKOFF_BASE" envDefault:"4s"`
	EmbedBackoffMax  time.Duration `env:"EMBED_BACKOFF_MAX" envDefault:"10s"`
	EmbedBatchPause  time.Duration `env:"EMBED_BATCH_PAUSE" envDefault:"1s"`

	GenTimeout     time.Duration `env:"GEN_TIMEOUT" envDefault:"20m"`
	GenRetries     int           `env:"GEN_RETRIES" envDefault:"3"`
	GenBackoffBase time.Duration `env:"GEN_BACKOFF_BASE" envDefault:"4s"`
	GenBackoffMax  time.Duration `env:"GEN_BACKOFF_MAX" envDefault:"10s"`

	SearchTopK          int     `env:"SEARCH_TOP_K" envDefault:"5"`
	ScoreThreshold      float64 `env:"SCORE_THRESHOLD" envDefault:"0.3"`
	MinScoreCutoff      float64 `env:"MIN_SCORE_CUTOFF" envDefault:"0.3"`
	RelativeCutoff      float64 `env:"RELATIVE_CUTOFF" envDefault:"0.8"`
	CandidateMultiplier int     `env:"CANDIDATE_MULTIPLIER" envDefault:"2"`
	FallbackMinScore    float64 `env:"FALLBACK_MIN_SCORE" envDefault:"0.2"`

	BatchRetries     int           `env:"BATCH_RETRIES" envDefault:"3"`
	MaxFailedBatches int           `env:"MAX_FAILED_BATCHES" envDefault:"3"`
	IngestBatchDelay time.Duration `env:"INGEST_BATCH_DELAY" envDefault:"100ms"`
	IngestWorkers    int           `env:"INGEST_WORKERS" envDefault:"2"`
}

// LoadConfig loads .env, the optional YAML file and the environment, and
// exits when the result is unusable.
func LoadConfig() *Config {
	cfg, err := FromEnvironment("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnvironment is LoadConfig without the exit. An empty path falls back
// to the file named by PDFCHAT_CONFIG_FILE.
func FromEnvironment(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	return Load(path, environ())
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty) and vars, in increasing priority.
func Load(path string, vars map[string]string) (*Config, error) {
	merged := map[string]string{}
	if path != "" {
		fileVals, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fileVals {
			merged[k] = v
		}
	}
	for k, v := range vars {
		merged[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: merged}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(k)
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func environ() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if err := chunker.Validate(c.ChunkSize, c.ChunkOverlap); err != nil {
		return err
	}
	for name, v := range map[string]int{
		"BATCH_SIZE":           c.BatchSize,
		"EMBED_BATCH_SIZE":     c.EmbedBatchSize,
		"EMBED_CONCURRENCY":    c.EmbedConcurrency,
		"EMBED_DIM":            c.EmbedDim,
		"EMBED_RETRIES":        c.EmbedRetries,
		"GEN_RETRIES":          c.GenRetries,
		"SEARCH_TOP_K":         c.SearchTopK,
		"CANDIDATE_MULTIPLIER": c.CandidateMultiplier,
		"BATCH_RETRIES":        c.BatchRetries,
		"MAX_FAILED_BATCHES":   c.MaxFailedBatches,
		"INGEST_WORKERS":       c.IngestWorkers,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	for name, v := range map[string]float64{
		"SCORE_THRESHOLD":    c.ScoreThreshold,
		"MIN_SCORE_CUTOFF":   c.MinScoreCutoff,
		"RELATIVE_CUTOFF":    c.RelativeCutoff,
		"FALLBACK_MIN_SCORE": c.FallbackMinScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", name, v)
		}
	}

	checks := []struct {
		name, value string
		allowed     []string
	}{
		{"DB_DRIVER", c.DBDriver, []string{"postgres", "sqlite"}},
		{"STORAGE_BACKEND", c.StorageBackend, []string{"local", "s3"}},
		{"VECTOR_BACKEND", c.VectorBackend, []string{"pgvector", "chromem"}},
		{"EMBED_PROVIDER", c.EmbedProvider, []string{"ollama", "gemini"}},
		{"LLM_PROVIDER", c.LLMProvider, []string{"ollama", "gemini"}},
	}
	for _, chk := range checks {
		if !slices.Contains(chk.allowed, chk.value) {
			return fmt.Errorf("%s must be one of %s, got %q", chk.name, strings.Join(chk.allowed, ", "), chk.value)
		}
	}
	if c.VectorBackend == "pgvector" && c.DBDriver != "postgres" {
		return fmt.Errorf("VECTOR_BACKEND=pgvector requires DB_DRIVER=postgres")
	}
	return nil
}

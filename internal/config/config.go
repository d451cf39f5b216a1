package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// EmbeddingModel selects which recognizer weights are loaded.
	// Embeddings are only comparable within one model, so the match
	// threshold is resolved per model, never shared across models.
	EmbeddingModel  string             `yaml:"embedding_model"`
	MatchThresholds map[string]float64 `yaml:"match_thresholds"`
	// LivenessRealLabel is the classifier output index meaning "live
	// face". Label order differs between anti-spoof model exports.
	LivenessRealLabel int           `yaml:"liveness_real_label"`
	MinFaceRatio      float64       `yaml:"min_face_ratio"`
	MaxFaceRatio      float64       `yaml:"max_face_ratio"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout"`
}

// MatchThreshold returns the similarity cutoff paired with the
// configured embedding model.
func (v VisionConfig) MatchThreshold() float64 {
	if t, ok := v.MatchThresholds[v.EmbeddingModel]; ok {
		return t
	}
	return 0.5
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbeddingModel == "" {
		cfg.Vision.EmbeddingModel = "arcface"
	}
	if cfg.Vision.MatchThresholds == nil {
		cfg.Vision.MatchThresholds = map[string]float64{
			"arcface":       0.5,
			"mobilefacenet": 0.4,
		}
	}
	if cfg.Vision.MinFaceRatio == 0 {
		cfg.Vision.MinFaceRatio = 0.08
	}
	if cfg.Vision.MaxFaceRatio == 0 {
		cfg.Vision.MaxFaceRatio = 0.60
	}
	if cfg.Vision.ProviderTimeout == 0 {
		cfg.Vision.ProviderTimeout = 10 * time.Second
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IDV_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("IDV_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("IDV_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("IDV_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("IDV_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("IDV_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("IDV_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("IDV_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("IDV_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("IDV_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("IDV_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("IDV_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("IDV_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("IDV_EMBEDDING_MODEL"); v != "" {
		cfg.Vision.EmbeddingModel = v
	}
	if v := os.Getenv("IDV_LIVENESS_REAL_LABEL"); v != "" {
		if label, err := strconv.Atoi(v); err == nil {
			cfg.Vision.LivenessRealLabel = label
		}
	}
	if v := os.Getenv("IDV_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
}

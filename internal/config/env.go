package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANNOT"

// Overrides are ANNOT_* environment variables. A set variable wins over both
// config files.
type Overrides struct {
	Backend     string `envconfig:"BACKEND"`
	MaxBytes    *int64 `envconfig:"MAX_BYTES"`
	AnnotatorID string `envconfig:"ANNOTATOR_ID"`

	RedisURL    string `envconfig:"REDIS_URL"`
	LLMEndpoint string `envconfig:"LLM_ENDPOINT"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY"`
	LLMProvider string `envconfig:"LLM_PROVIDER"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION"`
	S3UseSSL    *bool  `envconfig:"S3_USE_SSL"`
}

// LoadDotEnv loads .env files into the environment without overwriting
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv reads the ANNOT_* overrides into repo and global. Either may be
// nil.
func ApplyEnv(repo *Config, global *GlobalConfig) error {
	var o Overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if repo != nil {
		setString(&repo.Backend, o.Backend)
		setString(&repo.AnnotatorID, o.AnnotatorID)
		if o.MaxBytes != nil {
			repo.MaxBytes = *o.MaxBytes
		}
		if err := repo.Validate(); err != nil {
			return err
		}
	}

	if global != nil {
		setString(&global.RedisURL, o.RedisURL)
		setString(&global.LLMEndpoint, o.LLMEndpoint)
		setString(&global.LLMAPIKey, o.LLMAPIKey)
		setString(&global.LLMProvider, o.LLMProvider)
		setString(&global.S3.Endpoint, o.S3Endpoint)
		setString(&global.S3.AccessKey, o.S3AccessKey)
		setString(&global.S3.SecretKey, o.S3SecretKey)
		setString(&global.S3.Bucket, o.S3Bucket)
		setString(&global.S3.Region, o.S3Region)
		if o.S3UseSSL != nil {
			global.S3.UseSSL = *o.S3UseSSL
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// envName maps a config key such as "llm_api_key" to its variable suffix.
func envName(setting string) string {
	return strings.ToUpper(strings.ReplaceAll(setting, ".", "_"))
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGlobalConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := GlobalConfigPath(), "/custom/config/annot/config.yml"; got != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}
	if got, want := GlobalConfigPath(), filepath.Join(home, ".config", "annot", "config.yml"); got != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", got, want)
	}
}

func TestLoadGlobalConfig_NotFound(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if cfg == nil || cfg.LLMEndpoint != "" {
		t.Errorf("LoadGlobalConfig() = %+v, want empty config", cfg)
	}
}

func writeGlobal(t *testing.T, content string) {
	t.Helper()
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, GlobalConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, GlobalConfigFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
}

func TestLoadGlobalConfig_Valid(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()

	writeGlobal(t, `llm_endpoint: https://llm.example.org/annotate
llm_api_key: sk-test
llm_provider: claude
redis_url: redis://localhost:6379/0
s3:
  endpoint: minio.example.org:9000
  access_key: ak
  secret_key: sk
  bucket: transcripts
  use_ssl: true
`)

	cfg, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if cfg.LLMEndpoint != "https://llm.example.org/annotate" || cfg.LLMAPIKey != "sk-test" || cfg.LLMProvider != "claude" {
		t.Errorf("LLM settings = %+v", cfg)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	want := S3Config{Endpoint: "minio.example.org:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "transcripts", UseSSL: true}
	if cfg.S3 != want {
		t.Errorf("S3 = %+v, want %+v", cfg.S3, want)
	}
}

func TestLoadGlobalConfig_InvalidYAML(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()

	writeGlobal(t, "s3: [unclosed")

	if _, err := LoadGlobalConfig(); err == nil {
		t.Error("LoadGlobalConfig() should fail on invalid YAML")
	}
}

func TestLoadGlobalConfig_Caching(t *testing.T) {
	ResetGlobalConfigCache()
	defer ResetGlobalConfigCache()

	writeGlobal(t, "llm_provider: first\n")
	first, _ := LoadGlobalConfig()

	writeGlobal(t, "llm_provider: second\n")
	second, _ := LoadGlobalConfig()
	if first != second || second.LLMProvider != "first" {
		t.Error("LoadGlobalConfig() should return the cached config")
	}

	ResetGlobalConfigCache()
	third, _ := LoadGlobalConfig()
	if third.LLMProvider != "second" {
		t.Errorf("after reset LLMProvider = %q, want second", third.LLMProvider)
	}
}

func TestHelpfulConfigMessage(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	msg := HelpfulConfigMessage("llm_endpoint")
	for _, want := range []string{"/cfg/annot/config.yml", "llm_endpoint: ...", "ANNOT_LLM_ENDPOINT"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

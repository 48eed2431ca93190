package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"SPEECH_URL":    "http://localhost:9000/v1/audio/transcriptions",
		"TRANSLATE_URL": "http://localhost:9001/v1/translate",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.WorkDir != "/tmp/subgen" {
			t.Errorf("WorkDir = %q, want /tmp/subgen", cfg.WorkDir)
		}
		if cfg.Speech.Model != "whisper-1" {
			t.Errorf("Speech.Model = %q, want whisper-1", cfg.Speech.Model)
		}
		if cfg.Speech.SampleRate != 16000 {
			t.Errorf("Speech.SampleRate = %d, want 16000", cfg.Speech.SampleRate)
		}
		if cfg.Cue.MaxChars != 42 {
			t.Errorf("Cue.MaxChars = %d, want 42", cfg.Cue.MaxChars)
		}
		if cfg.Cue.MaxDuration != 6*time.Second {
			t.Errorf("Cue.MaxDuration = %v, want 6s", cfg.Cue.MaxDuration)
		}
		if cfg.Retry.MaxAttempts != 3 {
			t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
		}
		if cfg.S3.Enabled() {
			t.Error("S3.Enabled() = true with no bucket configured")
		}
		if cfg.Workers != 2 {
			t.Errorf("Workers = %d, want 2", cfg.Workers)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:  "nonexistent.env",
			HTTPAddr: ":9090",
			LogLevel: "debug",
			WorkDir:  "/tmp/scratch",
			DataDir:  "/var/lib/subgen",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.WorkDir != "/tmp/scratch" {
			t.Errorf("WorkDir = %q, want /tmp/scratch", cfg.WorkDir)
		}
		if cfg.DataDir != "/var/lib/subgen" {
			t.Errorf("DataDir = %q, want /var/lib/subgen", cfg.DataDir)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Speech.URL != "http://localhost:9000/v1/audio/transcriptions" {
			t.Errorf("Speech.URL = %q, want env value", cfg.Speech.URL)
		}
		if cfg.Translate.URL != "http://localhost:9001/v1/translate" {
			t.Errorf("Translate.URL = %q, want env value", cfg.Translate.URL)
		}
	})

	t.Run("s3_enabled_by_bucket", func(t *testing.T) {
		c := setEnvs(t, map[string]string{"S3_BUCKET": "subtitles"})
		defer c()
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.S3.Enabled() {
			t.Error("S3.Enabled() = false, want true")
		}
		if cfg.S3.PresignExpiry != time.Hour {
			t.Errorf("S3.PresignExpiry = %v, want 1h", cfg.S3.PresignExpiry)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	// Clear any existing values
	cleanup := setEnvs(t, map[string]string{
		"SPEECH_URL":    "",
		"TRANSLATE_URL": "",
	})
	defer cleanup()
	os.Unsetenv("SPEECH_URL")
	os.Unsetenv("TRANSLATE_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}

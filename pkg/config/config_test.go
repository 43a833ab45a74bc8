package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Model string `yaml:"model"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnvWithFallback(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "board")
	t.Setenv("SAMPLE_MODEL", "")
	path := writeFile(t, "name: ${SAMPLE_NAME}\nport: ${SAMPLE_PORT:-8080}\nmodel: ${SAMPLE_MODEL:-gpt-4o-mini}\n")

	var cfg sample
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "board" || cfg.Port != 8080 || cfg.Model != "gpt-4o-mini" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadNamesFileInErrors(t *testing.T) {
	path := writeFile(t, "name: x\n")
	var cfg sample
	err := Load(path, &cfg)
	if err == nil {
		t.Fatal("validation error expected")
	}
	if !strings.HasPrefix(err.Error(), "config: "+path) {
		t.Errorf("err = %v", err)
	}

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if err := Load(missing, &cfg); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestLoadOptionalKeepsDefaults(t *testing.T) {
	cfg := sample{Port: 9090}
	loaded, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &cfg)
	if err != nil || loaded {
		t.Fatalf("loaded = %v, err = %v", loaded, err)
	}
	if cfg.Port != 9090 {
		t.Errorf("defaults changed: %+v", cfg)
	}

	var empty sample
	if _, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &empty); err == nil {
		t.Error("invalid defaults should fail validation")
	}

	loaded, err = LoadOptional(writeFile(t, "port: 7000\n"), &cfg)
	if err != nil || !loaded || cfg.Port != 7000 {
		t.Errorf("loaded = %v, err = %v, cfg = %+v", loaded, err, cfg)
	}
}

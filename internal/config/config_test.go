package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: text
worker:
  base_url: http://camunda:8080/engine-rest
  max_tasks: 4
  lock_duration: 1m
  topics:
    - name: invoice
      variables: [amount, invoice]
      max_tasks: 2
      output_format: application/xml
    - name: shipping
coordinator:
  database: /var/lib/extask/tasks.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)

	w := cfg.Worker
	require.Equal(t, "http://camunda:8080/engine-rest", w.BaseURL)
	require.Equal(t, 4, w.MaxTasks)
	require.Equal(t, time.Minute, w.LockDuration)
	require.Equal(t, 10*time.Second, w.AsyncResponseTimeout)
	require.Equal(t, "application/json", w.DefaultFormat)
	require.Len(t, w.Topics, 2)
	require.Equal(t, "invoice", w.Topics[0].Name)
	require.Equal(t, []string{"amount", "invoice"}, w.Topics[0].Variables)
	require.Equal(t, 2, w.Topics[0].MaxTasks)
	require.Equal(t, "application/xml", w.Topics[0].OutputFormat)
	require.Nil(t, w.Topics[1].Variables)
	require.NoError(t, cfg.ValidateWorker())

	require.Equal(t, "/var/lib/extask/tasks.db", cfg.Coordinator.Database)
	require.Equal(t, ":8080", cfg.Coordinator.ListenAddr)
	require.Equal(t, 50*time.Millisecond, cfg.Coordinator.PollInterval)
	require.NoError(t, cfg.ValidateCoordinator())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
worker:
  max_tasks: 4
`)
	t.Setenv("EXTASK_WORKER_MAX_TASKS", "16")
	t.Setenv("EXTASK_LOG_LEVEL", "warn")
	t.Setenv("EXTASK_COORDINATOR_LISTEN_ADDR", "127.0.0.1:9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Worker.MaxTasks)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "127.0.0.1:9090", cfg.Coordinator.ListenAddr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 10, cfg.Worker.MaxTasks)
	require.NoError(t, cfg.ValidateCoordinator())

	// The worker needs at least one topic.
	require.Error(t, cfg.ValidateWorker())
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log:
  level: loud
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "log.LogConfig.Level")
}

func TestValidateWorker_Errors(t *testing.T) {
	path := writeConfig(t, `
worker:
  base_url: not a url
  max_tasks: 0
  topics:
    - lock_duration: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.ValidateWorker()
	require.Error(t, err)
	require.ErrorContains(t, err, "BaseURL")
	require.ErrorContains(t, err, "MaxTasks")
	require.ErrorContains(t, err, "Topics[0].Name")
}

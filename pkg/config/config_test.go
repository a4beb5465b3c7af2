package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every SPANNERS_ variable a developer machine might carry
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_NAME",
		"DB_PASSWORD", "DB_TIMEOUT", "SCHEDULER_EXEC_PATH", "SCHEDULER_PROCESS_LIMIT",
		"SCHEDULER_TIME_LIMIT", "SCHEDULER_RESOURCE_LIMIT", "SCHEDULER_SLEEP",
		"TLS_CERT_PATH", "TLS_KEY_PATH", "MGMT_SOCKET_PATH", "METRICS_PORT",
		"LOG_LEVEL", "LOG_JSON",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4711, cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, "10s", cfg.DBTimeout)
	assert.Equal(t, 4, cfg.SchedulerProcessLimit)
	assert.Equal(t, int64(0), cfg.SchedulerTimeLimit)
	assert.Equal(t, int64(1000), cfg.SchedulerSleep)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "server.cfg")
	require.NoError(t, os.WriteFile(path, []byte(`
server-port = 9000
db-user = "spanners"
db-name = "jobs"
scheduler-exec-path = "/usr/libexec/spanners-worker"
scheduler-sleep = 200
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, "spanners", cfg.DBUser)
	assert.Equal(t, int64(200), cfg.SchedulerSleep)
	// Untouched keys keep defaults
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, 4, cfg.SchedulerProcessLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "server.cfg")
	require.NoError(t, os.WriteFile(path, []byte(`server-port = 9000`), 0o600))

	t.Setenv("SPANNERS_SERVER_PORT", "9100")
	t.Setenv("SPANNERS_DB_PASSWORD", "from-env")
	t.Setenv("SPANNERS_LOG_JSON", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.ServerPort)
	assert.Equal(t, "from-env", cfg.DBPassword)
	assert.True(t, cfg.LogJSON)
}

func TestEnvRejectsGarbage(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "server.cfg")
	require.NoError(t, os.WriteFile(path, []byte(``), 0o600))

	t.Setenv("SPANNERS_SERVER_PORT", "not-a-number")
	_, err := Load(path)
	assert.ErrorContains(t, err, "SPANNERS_SERVER_PORT")
}

func TestExplicitPathMustExist(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

func TestFirstRunWritesDefaultFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4711, cfg.ServerPort)

	written := filepath.Join(dir, "spanners", "server.cfg")
	data, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server-port = 4711")
	assert.Contains(t, string(data), "SPANNERS_")

	// The written file parses back to the same defaults
	cfg2, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerPort, cfg2.ServerPort)
	assert.Equal(t, cfg.SchedulerSleep, cfg2.SchedulerSleep)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.SchedulerExecPath = "/usr/libexec/spanners-worker"
		cfg.DBUser = "spanners"
		cfg.DBName = "jobs"
		return cfg
	}

	assert.NoError(t, valid().Validate())

	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"bad port", func(c *Config) { c.ServerPort = 0 }, "server-port"},
		{"no exec path", func(c *Config) { c.SchedulerExecPath = "" }, "scheduler-exec-path"},
		{"zero process limit", func(c *Config) { c.SchedulerProcessLimit = 0 }, "scheduler-process-limit"},
		{"zero sleep", func(c *Config) { c.SchedulerSleep = 0 }, "scheduler-sleep"},
		{"missing db user", func(c *Config) { c.DBUser = "" }, "db-user"},
		{"unknown driver", func(c *Config) { c.DBDriver = "oracle" }, "db-driver"},
		{"bad timeout", func(c *Config) { c.DBTimeout = "soon" }, "db-timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mod(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("memory driver needs no credentials", func(t *testing.T) {
		cfg := valid()
		cfg.DBDriver = "memory"
		cfg.DBUser = ""
		cfg.DBName = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestConnString(t *testing.T) {
	cfg := Default()
	cfg.DBUser = "spanners"
	cfg.DBName = "jobs"
	cfg.DBPassword = "hunter2"

	conn := cfg.ConnString()
	assert.Contains(t, conn, "host=localhost")
	assert.Contains(t, conn, "port=5432")
	assert.Contains(t, conn, "user=spanners")
	assert.Contains(t, conn, "dbname=jobs")
	assert.Contains(t, conn, "connect_timeout=10")
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	cfg.SchedulerTimeLimit = 1500
	cfg.SchedulerSleep = 250

	assert.Equal(t, 1500*time.Millisecond, cfg.SchedulerTimeLimitDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.SchedulerSleepDuration())

	d, err := cfg.DBTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
}

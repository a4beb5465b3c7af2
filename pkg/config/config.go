package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to the upper-cased, underscored option key to form
// its environment variable, e.g. server-port -> SPANNERS_SERVER_PORT.
const EnvPrefix = "SPANNERS_"

// Config holds every server option. Precedence per key is command line over
// environment over config file over the built-in default; the command layer
// applies flag overrides after Load.
type Config struct {
	ServerPort int    `toml:"server-port"`
	DBDriver   string `toml:"db-driver"`
	DBHost     string `toml:"db-host"`
	DBPort     int    `toml:"db-port"`
	DBUser     string `toml:"db-user"`
	DBName     string `toml:"db-name"`
	DBPassword string `toml:"db-password"`
	DBTimeout  string `toml:"db-timeout"`

	SchedulerExecPath      string `toml:"scheduler-exec-path"`
	SchedulerProcessLimit  int    `toml:"scheduler-process-limit"`
	SchedulerTimeLimit     int64  `toml:"scheduler-time-limit"`
	SchedulerResourceLimit int64  `toml:"scheduler-resource-limit"`
	SchedulerSleep         int64  `toml:"scheduler-sleep"`

	TLSCertPath string `toml:"tls-cert-path"`
	TLSKeyPath  string `toml:"tls-key-path"`

	MgmtSocketPath string `toml:"mgmt-socket-path"`
	MetricsPort    int    `toml:"metrics-port"`
	LogLevel       string `toml:"log-level"`
	LogJSON        bool   `toml:"log-json"`
}

// Default returns the built-in defaults. Time-limit and resource-limit of
// zero mean unlimited; scheduler-sleep and scheduler-time-limit are in
// milliseconds, resource-limit in bytes.
func Default() *Config {
	return &Config{
		ServerPort:            4711,
		DBDriver:              "postgres",
		DBHost:                "localhost",
		DBPort:                5432,
		DBTimeout:             "10s",
		SchedulerProcessLimit: 4,
		SchedulerSleep:        1000,
		MgmtSocketPath:        "/tmp/spanners-mgmt.sock",
		LogLevel:              "info",
	}
}

// Load resolves the configuration: defaults, then the config file, then the
// environment. An explicit path must exist; otherwise the lookup is
// $XDG_CONFIG_HOME/spanners/server.cfg, then $HOME/.config/spanners/server.cfg,
// and a commented default file is written on first run.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	path, err := resolvePath(explicitPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath picks the config file to read, creating the default one when
// no file exists yet. Returns "" when no file can be placed (no HOME).
func resolvePath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicitPath, err)
		}
		return explicitPath, nil
	}

	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "spanners", "server.cfg"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "spanners", "server.cfg"))
	}
	if len(candidates) == 0 {
		return "", nil
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	// First run: write a commented default next to where we looked first
	path := candidates[0]
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFile), 0600); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

func (c *Config) applyEnv() error {
	var err error
	c.ServerPort, err = envInt("SERVER_PORT", c.ServerPort, err)
	c.DBDriver = envStr("DB_DRIVER", c.DBDriver)
	c.DBHost = envStr("DB_HOST", c.DBHost)
	c.DBPort, err = envInt("DB_PORT", c.DBPort, err)
	c.DBUser = envStr("DB_USER", c.DBUser)
	c.DBName = envStr("DB_NAME", c.DBName)
	c.DBPassword = envStr("DB_PASSWORD", c.DBPassword)
	c.DBTimeout = envStr("DB_TIMEOUT", c.DBTimeout)
	c.SchedulerExecPath = envStr("SCHEDULER_EXEC_PATH", c.SchedulerExecPath)
	c.SchedulerProcessLimit, err = envInt("SCHEDULER_PROCESS_LIMIT", c.SchedulerProcessLimit, err)
	c.SchedulerTimeLimit, err = envInt64("SCHEDULER_TIME_LIMIT", c.SchedulerTimeLimit, err)
	c.SchedulerResourceLimit, err = envInt64("SCHEDULER_RESOURCE_LIMIT", c.SchedulerResourceLimit, err)
	c.SchedulerSleep, err = envInt64("SCHEDULER_SLEEP", c.SchedulerSleep, err)
	c.TLSCertPath = envStr("TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = envStr("TLS_KEY_PATH", c.TLSKeyPath)
	c.MgmtSocketPath = envStr("MGMT_SOCKET_PATH", c.MgmtSocketPath)
	c.MetricsPort, err = envInt("METRICS_PORT", c.MetricsPort, err)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	if v := os.Getenv(EnvPrefix + "LOG_JSON"); v != "" {
		b, parseErr := strconv.ParseBool(v)
		if parseErr != nil && err == nil {
			err = fmt.Errorf("%sLOG_JSON: %w", EnvPrefix, parseErr)
		}
		c.LogJSON = b
	}
	return err
}

func envStr(name, current string) string {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		return v
	}
	return current
}

func envInt(name string, current int, prev error) (int, error) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return current, prev
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if prev == nil {
			prev = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		return current, prev
	}
	return n, prev
}

func envInt64(name string, current int64, prev error) (int64, error) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return current, prev
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		if prev == nil {
			prev = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		return current, prev
	}
	return n, prev
}

// Validate checks the options a running server cannot do without
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server-port %d out of range", c.ServerPort)
	}
	if c.SchedulerProcessLimit <= 0 {
		return fmt.Errorf("scheduler-process-limit must be positive")
	}
	if c.SchedulerSleep <= 0 {
		return fmt.Errorf("scheduler-sleep must be positive")
	}
	if c.SchedulerExecPath == "" {
		return fmt.Errorf("scheduler-exec-path is required")
	}
	switch c.DBDriver {
	case "postgres":
		if c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("db-user and db-name are required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db-driver %q", c.DBDriver)
	}
	if _, err := c.DBTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// ConnString builds the database connection string handed to the pool and
// to every worker process.
func (c *Config) ConnString() string {
	timeout, err := c.DBTimeoutDuration()
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s password=%s connect_timeout=%d",
		c.DBHost, c.DBPort, c.DBUser, c.DBName, c.DBPassword,
		int(timeout.Seconds()),
	)
}

// DBTimeoutDuration parses db-timeout
func (c *Config) DBTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.DBTimeout)
	if err != nil {
		return 0, fmt.Errorf("db-timeout: %w", err)
	}
	return d, nil
}

// SchedulerTimeLimitDuration returns the per-job wall clock limit; zero
// means unlimited.
func (c *Config) SchedulerTimeLimitDuration() time.Duration {
	return time.Duration(c.SchedulerTimeLimit) * time.Millisecond
}

// SchedulerSleepDuration returns the scheduler poll interval
func (c *Config) SchedulerSleepDuration() time.Duration {
	return time.Duration(c.SchedulerSleep) * time.Millisecond
}

const defaultFile = `# spanners server configuration
#
# Every key can also be set through the environment with the SPANNERS_
# prefix (dashes become underscores, e.g. SPANNERS_SERVER_PORT) or through
# the matching command line flag. Command line beats environment beats this
# file.

# TCP port the client I/O server listens on.
server-port = 4711

# Database backing the job queue. Driver "memory" keeps everything
# in-process and is only useful for development.
db-driver = "postgres"
db-host = "localhost"
db-port = 5432
db-user = ""
db-name = ""
db-password = ""
db-timeout = "10s"

# Worker executable spawned for each running job.
scheduler-exec-path = ""

# Maximum number of worker processes running at once.
scheduler-process-limit = 4

# Per-job wall clock limit in milliseconds. 0 means unlimited.
scheduler-time-limit = 0

# Per-worker address space limit in bytes. 0 means unlimited.
scheduler-resource-limit = 0

# Scheduler poll interval in milliseconds.
scheduler-sleep = 1000

# TLS for the client I/O server. Leave both empty for plaintext.
tls-cert-path = ""
tls-key-path = ""

# Management plane datagram socket.
mgmt-socket-path = "/tmp/spanners-mgmt.sock"

# Prometheus endpoint port. 0 disables the endpoint.
metrics-port = 0

# Logging: level is one of debug, info, warn, error; log-json switches the
# console writer to raw JSON lines.
log-level = "info"
log-json = false
`

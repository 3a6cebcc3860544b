package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultGroup is the multicast group leaders publish beacons to.
	DefaultGroup = "239.255.255.250"
	// DefaultPort is the UDP port leaders and followers bind to.
	DefaultPort = 10000

	// DefaultSyncPeriod is the number of frames between beacons.
	DefaultSyncPeriod = 30
	// DefaultReadyFrame is the leader-chosen countdown to the coordinated
	// "go" instant.
	DefaultReadyFrame = 1000
	// DefaultWindowCapacity bounds the regression windows kept by the clock
	// model and error tracker.
	DefaultWindowCapacity = 100
	// DefaultFrameDurationUs is the nominal inter-frame spacing in microseconds.
	DefaultFrameDurationUs = 33_333

	// DefaultAddr is the default TCP address the debug/admin HTTP surface listens on.
	DefaultAddr = ":43127"
	// DefaultMetricsAddr is the default for ServerConfig.MetricsAddress.
	// camerasyncd does not read that field; it serves /metrics on Address.
	DefaultMetricsAddr = ":43128"

	// DefaultTraceDumpWindow is the window of the rate limit camerasyncd
	// applies to /debug/status requests.
	DefaultTraceDumpWindow = time.Minute
	// DefaultTraceDumpBurst sets how many /debug/status requests camerasyncd
	// allows per window.
	DefaultTraceDumpBurst = 1

	// DefaultLogLevel controls verbosity for camerasync logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "camerasync.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// ParamSource looks up a configuration key, returning ok=false when unset.
// A sync-parameter file on disk, a flag set, or the process environment can
// each implement this without the rest of the package caring which.
type ParamSource interface {
	Lookup(key string) (string, bool)
}

// EnvParamSource reads parameters from the process environment.
type EnvParamSource struct{}

// Lookup implements ParamSource over os.Getenv.
func (EnvParamSource) Lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// MapParamSource serves parameters from an in-memory map, used in tests and
// for sync-parameter files decoded ahead of time.
type MapParamSource map[string]string

// Lookup implements ParamSource over a plain map.
func (m MapParamSource) Lookup(key string) (string, bool) {
	value, ok := m[key]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// SyncConfig captures the runtime tunables for a leader or follower sync
// session: multicast endpoint, sync cadence, and regression window sizes.
type SyncConfig struct {
	Group           string
	Port            uint16
	SyncPeriod      uint32
	ReadyFrame      uint32
	WindowCapacity  uint32
	FrameDurationUs int64
	TraceDir        string
	SessionID       string
}

// LoadSync reads sync session configuration from the provided parameter
// source, applying defaults and returning descriptive errors for invalid
// overrides (spec.md §6).
func LoadSync(params ParamSource) (*SyncConfig, error) {
	if params == nil {
		params = EnvParamSource{}
	}
	cfg := &SyncConfig{
		Group:           getString(params, "CAMERASYNC_GROUP", DefaultGroup),
		Port:            DefaultPort,
		SyncPeriod:      DefaultSyncPeriod,
		ReadyFrame:      DefaultReadyFrame,
		WindowCapacity:  DefaultWindowCapacity,
		FrameDurationUs: DefaultFrameDurationUs,
		TraceDir:        strings.TrimSpace(getString(params, "CAMERASYNC_TRACE_DIR", "")),
		SessionID:       strings.TrimSpace(getString(params, "CAMERASYNC_SESSION_ID", "")),
	}

	var problems []string

	if raw, ok := params.Lookup("CAMERASYNC_PORT"); ok {
		value, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_PORT must be a positive 16-bit integer, got %q", raw))
		} else {
			cfg.Port = uint16(value)
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_SYNC_PERIOD"); ok {
		value, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_SYNC_PERIOD must be a positive integer, got %q", raw))
		} else {
			cfg.SyncPeriod = uint32(value)
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_READY_FRAME"); ok {
		value, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_READY_FRAME must be a positive integer, got %q", raw))
		} else {
			cfg.ReadyFrame = uint32(value)
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_WINDOW_CAPACITY"); ok {
		value, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_WINDOW_CAPACITY must be a positive integer, got %q", raw))
		} else {
			cfg.WindowCapacity = uint32(value)
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_FRAME_DURATION_US"); ok {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_FRAME_DURATION_US must be a positive integer, got %q", raw))
		} else {
			cfg.FrameDurationUs = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ServerConfig captures the runtime tunables for the debug/admin HTTP
// surface and trace-bundle retention, carried separately from SyncConfig
// because a pure leader/follower library caller never needs them.
type ServerConfig struct {
	Address           string
	MetricsAddress    string
	AllowedOrigins    []string
	TLSCertPath       string
	TLSKeyPath        string
	AdminToken        string
	TraceDumpWindow   time.Duration
	TraceDumpBurst    int
	TraceDirectory    string
	TraceMaxSessions  int
	TraceMaxAge       time.Duration
	Logging           LoggingConfig
}

// LoadServer reads debug/admin HTTP surface configuration from the
// provided parameter source.
func LoadServer(params ParamSource) (*ServerConfig, error) {
	if params == nil {
		params = EnvParamSource{}
	}
	cfg := &ServerConfig{
		Address:          getString(params, "CAMERASYNC_ADDR", DefaultAddr),
		MetricsAddress:   getString(params, "CAMERASYNC_METRICS_ADDR", DefaultMetricsAddr),
		AllowedOrigins:   parseList(lookupOrEmpty(params, "CAMERASYNC_ALLOWED_ORIGINS")),
		TLSCertPath:      strings.TrimSpace(lookupOrEmpty(params, "CAMERASYNC_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(lookupOrEmpty(params, "CAMERASYNC_TLS_KEY")),
		AdminToken:       strings.TrimSpace(lookupOrEmpty(params, "CAMERASYNC_ADMIN_TOKEN")),
		TraceDumpWindow:  DefaultTraceDumpWindow,
		TraceDumpBurst:   DefaultTraceDumpBurst,
		TraceDirectory:   strings.TrimSpace(lookupOrEmpty(params, "CAMERASYNC_TRACE_DIR")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString(params, "CAMERASYNC_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString(params, "CAMERASYNC_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw, ok := params.Lookup("CAMERASYNC_TRACE_DUMP_WINDOW"); ok {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_TRACE_DUMP_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.TraceDumpWindow = duration
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_TRACE_DUMP_BURST"); ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_TRACE_DUMP_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.TraceDumpBurst = value
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_TRACE_MAX_SESSIONS"); ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_TRACE_MAX_SESSIONS must be a non-negative integer, got %q", raw))
		} else {
			cfg.TraceMaxSessions = value
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_TRACE_MAX_AGE"); ok {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_TRACE_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.TraceMaxAge = duration
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_LOG_MAX_SIZE_MB"); ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_LOG_MAX_BACKUPS"); ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_LOG_MAX_AGE_DAYS"); ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw, ok := params.Lookup("CAMERASYNC_LOG_COMPRESS"); ok {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CAMERASYNC_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "CAMERASYNC_TLS_CERT and CAMERASYNC_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(params ParamSource, key, fallback string) string {
	if value, ok := params.Lookup(key); ok {
		return value
	}
	return fallback
}

func lookupOrEmpty(params ParamSource, key string) string {
	value, _ := params.Lookup(key)
	return value
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}

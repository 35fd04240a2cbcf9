package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"latency-probe/internal/echo"
	"latency-probe/internal/probe"
	"latency-probe/internal/wire"
)

var ErrInvalid = errors.New("invalid configuration")

// Message kinds for PROBE_MESSAGE
const (
	MessagePacket = "packet"
	MessageIndex  = "index"
	MessageRTP    = "rtp"
)

// Match modes for PROBE_MATCH
const (
	MatchExact  = "exact"
	MatchSuffix = "suffix"
	MatchAny    = "any"
)

// Common holds settings shared by the echo server and the probe client
type Common struct {
	Network         string
	Port            int
	BufferSize      int
	TOS             int
	StatsAddr       string
	MetricsInterval time.Duration
	LogLevel        string
}

// EchoConfig holds echo server configuration
type EchoConfig struct {
	Common
	BindIP      string
	ReplyPrefix string
	FixedReply  string
	DelayAfter  int
	Delay       time.Duration
	DelayPeer   bool
	QueueSize   int
}

// ProbeConfig holds probe client configuration
type ProbeConfig struct {
	Common
	Host          string
	Prompt        bool
	Count         int
	Mode          string
	Concurrency   int
	Timeout       time.Duration
	Message       string
	IndexWidth    int
	RTPPayload    string
	ExpectPrefix  string
	Match         string
	LateThreshold time.Duration
	ReportFile    string
}

// load reads the .env files, the default one when none is given. Missing
// files are not an error.
func load(files ...string) {
	_ = godotenv.Load(files...)
}

func loadCommon() Common {
	return Common{
		Network:         getEnv("NETWORK", echo.NetworkUDP),
		Port:            getEnvAsInt("PORT", wire.DefaultPort),
		BufferSize:      getEnvAsInt("BUFFER_SIZE", wire.MaxMessageSize),
		TOS:             getEnvAsInt("TOS", 0),
		StatsAddr:       getEnv("STATS_ADDR", ""),
		MetricsInterval: time.Duration(getEnvAsInt("METRICS_INTERVAL_SEC", 5)) * time.Second,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// LoadEcho loads the echo server configuration from the environment and
// the given .env files.
func LoadEcho(files ...string) (*EchoConfig, error) {
	load(files...)

	config := &EchoConfig{
		Common:      loadCommon(),
		BindIP:      getEnv("BIND_IP", "0.0.0.0"),
		ReplyPrefix: getEnvRaw("ECHO_REPLY_PREFIX", wire.AckPrefix),
		FixedReply:  getEnvRaw("ECHO_FIXED_REPLY", ""),
		DelayAfter:  getEnvAsInt("ECHO_DELAY_AFTER", 0),
		Delay:       time.Duration(getEnvAsInt("ECHO_DELAY_MS", 0)) * time.Millisecond,
		DelayPeer:   getEnvAsBool("ECHO_DELAY_PER_PEER", false),
		QueueSize:   getEnvAsInt("ECHO_QUEUE_SIZE", 1000),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadProbe loads the probe client configuration from the environment and
// the given .env files.
func LoadProbe(files ...string) (*ProbeConfig, error) {
	load(files...)

	config := &ProbeConfig{
		Common:        loadCommon(),
		Host:          getEnv("PROBE_HOST", "127.0.0.1"),
		Prompt:        getEnvAsBool("PROBE_PROMPT", false),
		Count:         getEnvAsInt("PROBE_COUNT", 10),
		Mode:          getEnv("PROBE_MODE", probe.ModeSequential),
		Concurrency:   getEnvAsInt("PROBE_CONCURRENCY", 100),
		Timeout:       time.Duration(getEnvAsInt("PROBE_TIMEOUT_MS", 1000)) * time.Millisecond,
		Message:       getEnv("PROBE_MESSAGE", MessagePacket),
		IndexWidth:    getEnvAsInt("PROBE_INDEX_WIDTH", 2),
		RTPPayload:    getEnv("PROBE_RTP_PAYLOAD", "latency test payload"),
		ExpectPrefix:  getEnvRaw("PROBE_EXPECT_PREFIX", wire.AckPrefix),
		Match:         getEnv("PROBE_MATCH", MatchExact),
		LateThreshold: time.Duration(getEnvAsInt("PROBE_LATE_MS", 500)) * time.Millisecond,
		ReportFile:    getEnv("PROBE_REPORT_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Common) validate() error {
	if c.Network != echo.NetworkUDP && c.Network != echo.NetworkTCP {
		return fmt.Errorf("%w: NETWORK must be udp or tcp, got %q", ErrInvalid, c.Network)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT %d out of range", ErrInvalid, c.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: BUFFER_SIZE must be positive", ErrInvalid)
	}
	if c.TOS < 0 || c.TOS > 0xff {
		return fmt.Errorf("%w: TOS %d out of range", ErrInvalid, c.TOS)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Validate checks the echo server configuration.
func (c *EchoConfig) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	if c.DelayAfter < 0 || c.Delay < 0 {
		return fmt.Errorf("%w: ECHO_DELAY_AFTER and ECHO_DELAY_MS must not be negative", ErrInvalid)
	}
	return nil
}

// Validate checks the probe client configuration.
func (c *ProbeConfig) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	if c.Count <= 0 {
		return fmt.Errorf("%w: PROBE_COUNT must be positive", ErrInvalid)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: PROBE_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: PROBE_TIMEOUT_MS must be positive", ErrInvalid)
	}
	switch c.Mode {
	case probe.ModeSequential, probe.ModeConcurrent:
	default:
		return fmt.Errorf("%w: PROBE_MODE %q", ErrInvalid, c.Mode)
	}
	switch c.Message {
	case MessagePacket, MessageIndex, MessageRTP:
	default:
		return fmt.Errorf("%w: PROBE_MESSAGE %q", ErrInvalid, c.Message)
	}
	switch c.Match {
	case MatchExact, MatchSuffix, MatchAny:
	default:
		return fmt.Errorf("%w: PROBE_MATCH %q", ErrInvalid, c.Match)
	}
	return nil
}

// ServerConfig converts to the echo server configuration.
func (c *EchoConfig) ServerConfig() (echo.Config, error) {
	addr, err := wire.NewEndpoint(c.BindIP, c.Port)
	if err != nil {
		return echo.Config{}, err
	}

	reply := echo.ReplyPolicy{Prefix: []byte(c.ReplyPrefix)}
	if c.FixedReply != "" {
		reply.Fixed = []byte(c.FixedReply)
	}

	return echo.Config{
		Network:    c.Network,
		Addr:       addr,
		BufferSize: c.BufferSize,
		Reply:      reply,
		Delay: echo.DelayPolicy{
			After:   c.DelayAfter,
			Delay:   c.Delay,
			PerPeer: c.DelayPeer,
		},
		QueueSize:      c.QueueSize,
		TOS:            c.TOS,
		ReportInterval: c.MetricsInterval,
	}, nil
}

// ProberConfig converts to the probe client configuration. host overrides
// PROBE_HOST when not empty.
func (c *ProbeConfig) ProberConfig(host string) (probe.Config, error) {
	if host == "" {
		host = c.Host
	}
	target, err := wire.NewEndpoint(host, c.Port)
	if err != nil {
		return probe.Config{}, err
	}

	config := probe.Config{
		Network:       c.Network,
		Target:        target,
		BufferSize:    c.BufferSize,
		Timeout:       c.Timeout,
		Concurrency:   c.Concurrency,
		TOS:           c.TOS,
		LateThreshold: c.LateThreshold,
	}

	if c.Message == MessageRTP {
		config.RTP = true
		config.RTPPrefix = []byte(c.ExpectPrefix)
		return config, nil
	}

	switch c.Match {
	case MatchExact:
		config.Match = probe.MatchExact([]byte(c.ExpectPrefix), c.BufferSize)
	case MatchSuffix:
		config.Match = probe.MatchSuffix
	case MatchAny:
		config.Match = probe.MatchAny
	}
	return config, nil
}

// Messages returns the builder for the configured message kind.
func (c *ProbeConfig) Messages() probe.MessageFunc {
	switch c.Message {
	case MessageIndex:
		return probe.IndexMessages(c.IndexWidth)
	case MessageRTP:
		return probe.RTPMessages([]byte(c.RTPPayload))
	default:
		return probe.PacketMessages()
	}
}

// Logger builds a text logger writing to w at the configured level.
func (c *Common) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, s)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvRaw distinguishes an unset variable from one set to the empty
// string, so a reply prefix can be disabled.
func getEnvRaw(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

package config

import (
	"os"
	"strconv"
)

// Config holds runtime configuration, sourced from environment variables.
type Config struct {
	Port        string
	MetricsPort string
	Environment string

	// ChannelBuffer sizes the sequencer op queues and event channels.
	ChannelBuffer int
	// DefaultDepth is the L2 snapshot depth when the caller omits one.
	DefaultDepth int

	NATS NATSConfig
	OTLP OTLPConfig
}

// NATSConfig configures the outbound trade event sink.
// An empty URL disables NATS publishing.
type NATSConfig struct {
	URL string
}

// OTLPConfig configures the trace exporter.
type OTLPConfig struct {
	Endpoint string
}

// Load reads configuration from the environment with sane defaults.
func Load() *Config {
	buffer, _ := strconv.Atoi(getEnv("CHANNEL_BUFFER", "4096"))
	if buffer <= 0 {
		buffer = 4096
	}
	depth, _ := strconv.Atoi(getEnv("DEFAULT_DEPTH", "10"))
	if depth <= 0 {
		depth = 10
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		ChannelBuffer: buffer,
		DefaultDepth:  depth,
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		OTLP: OTLPConfig{
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

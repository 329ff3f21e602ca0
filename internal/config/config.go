package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for fermentd.
type Config struct {
	// Event transport.
	NATSHost    string
	NATSPort    int
	StreamName  string
	Subjects    []string
	DurableName string

	// Device publishing.
	CommandTopicTemplate string
	HardwareModel        string

	// Persistence.
	StorePath string

	// mTLS material for the transport connection. All three must be set
	// to enable TLS; empty paths mean a plain connection.
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string

	LogLevel    string
	MetricsAddr string
}

// Load reads configuration from viper, which merges flag values, env vars,
// config file entries, and defaults (set up by the cobra command in
// cmd/fermentd).
func Load() Config {
	return Config{
		NATSHost:             viper.GetString("nats_host"),
		NATSPort:             viper.GetInt("nats_port"),
		StreamName:           viper.GetString("stream_name"),
		Subjects:             viper.GetStringSlice("subjects"),
		DurableName:          viper.GetString("durable_name"),
		CommandTopicTemplate: viper.GetString("command_topic_template"),
		HardwareModel:        viper.GetString("hardware_model"),
		StorePath:            viper.GetString("store_path"),
		TLSCAFile:            viper.GetString("tls_ca_file"),
		TLSCertFile:          viper.GetString("tls_cert_file"),
		TLSKeyFile:           viper.GetString("tls_key_file"),
		LogLevel:             viper.GetString("log_level"),
		MetricsAddr:          viper.GetString("metrics_addr"),
	}
}

// Validate rejects configurations the process cannot boot with.
func (c Config) Validate() error {
	if c.NATSHost == "" {
		return fmt.Errorf("nats host must not be empty")
	}
	if c.StreamName == "" {
		return fmt.Errorf("stream name must not be empty")
	}
	if len(c.Subjects) == 0 {
		return fmt.Errorf("at least one subject is required")
	}
	if c.DurableName == "" {
		return fmt.Errorf("durable name must not be empty")
	}
	if c.CommandTopicTemplate == "" {
		return fmt.Errorf("command topic template must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store path must not be empty")
	}
	set := 0
	for _, p := range []string{c.TLSCAFile, c.TLSCertFile, c.TLSKeyFile} {
		if p != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("tls ca, cert and key must be set together")
	}
	return nil
}

// TLSEnabled reports whether mTLS material is configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCAFile != "" && c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// NATSURL returns the transport address in nats URL form.
func (c Config) NATSURL() string {
	scheme := "nats"
	if c.TLSEnabled() {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.NATSHost, c.NATSPort)
}

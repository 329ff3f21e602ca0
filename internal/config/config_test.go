package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		NATSHost:             "localhost",
		NATSPort:             4222,
		StreamName:           "fermentation",
		Subjects:             []string{"fermentation.>"},
		DurableName:          "fermentd",
		CommandTopicTemplate: "shellies/{model}-{deviceid}/relay/0/command",
		HardwareModel:        "shellyplug-s",
		StorePath:            "fermentd.db",
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"nats host", func(c *Config) { c.NATSHost = "" }, "nats host"},
		{"stream name", func(c *Config) { c.StreamName = "" }, "stream name"},
		{"subjects", func(c *Config) { c.Subjects = nil }, "subject"},
		{"durable name", func(c *Config) { c.DurableName = "" }, "durable name"},
		{"topic template", func(c *Config) { c.CommandTopicTemplate = "" }, "topic template"},
		{"store path", func(c *Config) { c.StorePath = "" }, "store path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateRejectsPartialTLS(t *testing.T) {
	cfg := validConfig()
	cfg.TLSCAFile = "ca.pem"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for partial TLS material")
	}

	cfg.TLSCertFile = "cert.pem"
	cfg.TLSKeyFile = "key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete TLS material rejected: %v", err)
	}
	if !cfg.TLSEnabled() {
		t.Error("expected TLSEnabled with all three paths set")
	}
}

func TestNATSURL(t *testing.T) {
	cfg := validConfig()
	if url := cfg.NATSURL(); url != "nats://localhost:4222" {
		t.Errorf("unexpected plain url %q", url)
	}

	cfg.TLSCAFile = "ca.pem"
	cfg.TLSCertFile = "cert.pem"
	cfg.TLSKeyFile = "key.pem"
	if url := cfg.NATSURL(); url != "tls://localhost:4222" {
		t.Errorf("unexpected tls url %q", url)
	}
}

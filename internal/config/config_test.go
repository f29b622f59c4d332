package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")

	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default upstream type is native",
			check:  func(c *Config) bool { return c.UpstreamType == "native" },
			expect: "native",
		},
		{
			name:   "default circuit breaker failure threshold",
			check:  func(c *Config) bool { return c.CircuitBreakerFailureThreshold == 5 },
			expect: "5",
		},
		{
			name:   "default circuit breaker cooldown seconds",
			check:  func(c *Config) bool { return c.CircuitBreakerCooldownSeconds == 300 },
			expect: "300",
		},
		{
			name:   "default upstream timeout",
			check:  func(c *Config) bool { return c.UpstreamTimeout == 300 },
			expect: "300",
		},
		{
			name:   "default upstream connect timeout",
			check:  func(c *Config) bool { return c.UpstreamConnectTimeout == 30 },
			expect: "30",
		},
		{
			name:   "default log prompt body is false",
			check:  func(c *Config) bool { return c.LogPromptBody == false },
			expect: "false",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail without ENCRYPTION_KEY set")
	}
}

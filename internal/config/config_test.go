package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
		{
			name:   "agent iteration cap",
			check:  func(c *Config) bool { return c.AgentMaxIterations == 5 },
			expect: "5",
		},
		{
			name:   "conversation history limit",
			check:  func(c *Config) bool { return c.AgentHistoryLimit == 10 },
			expect: "10",
		},
		{
			name:   "dedup ttl is one day",
			check:  func(c *Config) bool { return c.DedupTTL == 24*time.Hour },
			expect: "24h",
		},
		{
			name:   "dedup memory bound",
			check:  func(c *Config) bool { return c.DedupMemoryMax == 10000 },
			expect: "10000",
		},
		{
			name:   "duplicate booking window",
			check:  func(c *Config) bool { return c.SchedulingDuplicateWindow == 5*time.Minute },
			expect: "5m",
		},
		{
			name:   "whatsapp message limit",
			check:  func(c *Config) bool { return c.WhatsAppMaxMessageLength == 4096 },
			expect: "4096",
		},
		{
			name:   "whatsapp send timeout",
			check:  func(c *Config) bool { return c.WhatsAppSendTimeout == 10*time.Second },
			expect: "10s",
		},
		{
			name:   "openai retries",
			check:  func(c *Config) bool { return c.OpenAIMaxRetries == 2 },
			expect: "2",
		},
		{
			name:   "seed channel address",
			check:  func(c *Config) bool { return c.SeedChannelAddress == "100000000000001" },
			expect: "100000000000001",
		},
		{
			name:   "no kafka brokers by default",
			check:  func(c *Config) bool { return len(c.KafkaBrokers) == 0 },
			expect: "empty",
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

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AGENT_TURN_TIMEOUT", "20s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v, want [k1:9092 k2:9092]", cfg.KafkaBrokers)
	}
	if cfg.AgentTurnTimeout != 20*time.Second {
		t.Errorf("AgentTurnTimeout = %v, want 20s", cfg.AgentTurnTimeout)
	}
}

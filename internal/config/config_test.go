package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"JT808_PORT", "JT1078_PORT", "PUBLIC_IP", "API_PORT", "DATABASE_URL", "REDIS_URL", "NATS_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.JT808Port != 6665 {
		t.Errorf("JT808Port = %d", cfg.JT808Port)
	}
	if cfg.JT1078Port != 6664 {
		t.Errorf("JT1078Port = %d", cfg.JT1078Port)
	}
	if cfg.APIPort != 3000 {
		t.Errorf("APIPort = %d", cfg.APIPort)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JT808_PORT", "7001")
	t.Setenv("PUBLIC_IP", "203.0.113.9")
	cfg := Load()
	if cfg.JT808Port != 7001 {
		t.Errorf("JT808Port = %d", cfg.JT808Port)
	}
	if cfg.PublicIP != "203.0.113.9" {
		t.Errorf("PublicIP = %q", cfg.PublicIP)
	}
}

func TestLoadBadIntFallsBack(t *testing.T) {
	t.Setenv("JT808_PORT", "not-a-number")
	if cfg := Load(); cfg.JT808Port != 6665 {
		t.Errorf("JT808Port = %d", cfg.JT808Port)
	}
}

package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ParsePort != 8001 {
		t.Errorf("Expected parse port 8001, got %d", cfg.Server.ParsePort)
	}
	if cfg.Server.QueryPort != 8002 {
		t.Errorf("Expected query port 8002, got %d", cfg.Server.QueryPort)
	}
	if cfg.Extraction.DensityFloor != 32 {
		t.Errorf("Expected density floor 32, got %d", cfg.Extraction.DensityFloor)
	}
	if cfg.Extraction.ConfidenceFloor != 0.55 {
		t.Errorf("Expected confidence floor 0.55, got %v", cfg.Extraction.ConfidenceFloor)
	}
	if cfg.Store.Capacity != 256 {
		t.Errorf("Expected store capacity 256, got %d", cfg.Store.Capacity)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Expected development environment, got %s", cfg.App.Environment)
	}
	if cfg.QueryTimeout().Seconds() != 15 {
		t.Errorf("Expected 15s query timeout, got %v", cfg.QueryTimeout())
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"equal ports", func(c *Config) { c.Server.QueryPort = c.Server.ParsePort }, true},
		{"negative density floor", func(c *Config) { c.Extraction.DensityFloor = -1 }, true},
		{"confidence floor above one", func(c *Config) { c.Extraction.ConfidenceFloor = 1.5 }, true},
		{"zero ocr workers", func(c *Config) { c.Extraction.OCRWorkers = 0 }, true},
		{"negative capacity", func(c *Config) { c.Store.Capacity = -1 }, true},
		{"missing market data url", func(c *Config) { c.Services.MarketData.BaseURL = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr && err == nil {
				t.Error("Expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
		})
	}
}

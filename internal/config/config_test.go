package config

import (
	"strings"
	"testing"
)

func TestValidateDefaults(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Validate(Default()) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base URL",
			mutate:  func(c *Config) { c.Catalog.BaseURL = "" },
			wantErr: "catalog.base_url",
		},
		{
			name:    "zero partitions",
			mutate:  func(c *Config) { c.Engine.Partitions = 0 },
			wantErr: "engine.partitions",
		},
		{
			name:    "inverted delays",
			mutate:  func(c *Config) { c.Engine.MinDelay = 3; c.Engine.MaxDelay = 1 },
			wantErr: "min_delay",
		},
		{
			name:    "missing content marker",
			mutate:  func(c *Config) { c.Browser.ContentMarker = "" },
			wantErr: "browser.content_marker",
		},
		{
			name: "bad proxy rotation",
			mutate: func(c *Config) {
				c.Proxy.Enabled = true
				c.Proxy.Rotation = "sticky"
			},
			wantErr: "proxy.rotation",
		},
		{
			name:    "missing sqlite path",
			mutate:  func(c *Config) { c.Storage.SQLitePath = "" },
			wantErr: "storage.sqlite_path",
		},
		{
			name: "archive enabled without URI",
			mutate: func(c *Config) {
				c.Storage.Archive.Enabled = true
				c.Storage.Archive.URI = ""
			},
			wantErr: "storage.archive.uri",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.saxo.com/dk", false},
		{"http://localhost:8080", false},
		{"ftp://example.com", true},
		{"not a url at all", true},
		{"https://", true},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

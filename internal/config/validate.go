package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values. Failures here are
// fatal at startup, before any scraping begins.
func Validate(cfg *Config) error {
	if cfg.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url must be set")
	}
	if err := ValidateURL(cfg.Catalog.BaseURL); err != nil {
		return fmt.Errorf("catalog.base_url: %w", err)
	}

	if cfg.Engine.Partitions < 1 {
		return fmt.Errorf("engine.partitions must be >= 1, got %d", cfg.Engine.Partitions)
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.MinDelay < 0 || cfg.Engine.MaxDelay < cfg.Engine.MinDelay {
		return fmt.Errorf("engine delays must satisfy 0 <= min_delay <= max_delay")
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}

	if cfg.Browser.RenderTimeout <= 0 {
		return fmt.Errorf("browser.render_timeout must be > 0")
	}
	if cfg.Browser.ContentMarker == "" {
		return fmt.Errorf("browser.content_marker must be set")
	}
	if cfg.Browser.MaxEditionRedirects < 1 {
		return fmt.Errorf("browser.max_edition_redirects must be >= 1, got %d", cfg.Browser.MaxEditionRedirects)
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		if cfg.Proxy.MinRequired < 1 {
			return fmt.Errorf("proxy.min_required must be >= 1, got %d", cfg.Proxy.MinRequired)
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must be set")
	}
	if cfg.Storage.Archive.Enabled {
		if cfg.Storage.Archive.URI == "" {
			return fmt.Errorf("storage.archive.uri must be set when the archive is enabled")
		}
		if cfg.Storage.Archive.Database == "" || cfg.Storage.Archive.Collection == "" {
			return fmt.Errorf("storage.archive database and collection must be set when the archive is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks if a URL string is usable for fetching.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for bookgraph.
type Config struct {
	Catalog Catalog `mapstructure:"catalog" yaml:"catalog"`
	Engine  Engine  `mapstructure:"engine"  yaml:"engine"`
	Fetcher Fetcher `mapstructure:"fetcher" yaml:"fetcher"`
	Browser Browser `mapstructure:"browser" yaml:"browser"`
	Proxy   Proxy   `mapstructure:"proxy"   yaml:"proxy"`
	Storage Storage `mapstructure:"storage" yaml:"storage"`
	Logging Logging `mapstructure:"logging" yaml:"logging"`
}

// Catalog describes the retailer site being scraped.
type Catalog struct {
	BaseURL    string `mapstructure:"base_url"    yaml:"base_url"`
	SearchPath string `mapstructure:"search_path" yaml:"search_path"`
}

// Engine controls the run loop.
type Engine struct {
	Partitions     int           `mapstructure:"partitions"       yaml:"partitions"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"  yaml:"request_timeout"`
	MinDelay       time.Duration `mapstructure:"min_delay"        yaml:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"        yaml:"max_delay"`
}

// Fetcher controls the static HTTP fetcher.
type Fetcher struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
}

// Browser controls the rendered detail-page fetcher.
type Browser struct {
	RenderTimeout       time.Duration `mapstructure:"render_timeout"        yaml:"render_timeout"`
	ContentMarker       string        `mapstructure:"content_marker"        yaml:"content_marker"`
	MaxEditionRedirects int           `mapstructure:"max_edition_redirects" yaml:"max_edition_redirects"`
	Stealth             bool          `mapstructure:"stealth"               yaml:"stealth"`
}

// Proxy controls outbound proxy usage for partitioned runs.
type Proxy struct {
	Enabled     bool     `mapstructure:"enabled"      yaml:"enabled"`
	Rotation    string   `mapstructure:"rotation"     yaml:"rotation"`
	URLs        []string `mapstructure:"urls"         yaml:"urls"`
	ListURL     string   `mapstructure:"list_url"     yaml:"list_url"`
	MinRequired int      `mapstructure:"min_required" yaml:"min_required"`
}

// Storage controls the persistent graph store and the optional raw-record
// archive mirror.
type Storage struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Archive    Archive `mapstructure:"archive"    yaml:"archive"`
}

// Archive is the MongoDB mirror of raw extracted records.
type Archive struct {
	Enabled    bool   `mapstructure:"enabled"    yaml:"enabled"`
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// Logging controls logging behavior.
type Logging struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Catalog: Catalog{
			BaseURL:    "https://www.saxo.com/dk",
			SearchPath: "/products/search",
		},
		Engine: Engine{
			Partitions:     1,
			RequestTimeout: 30 * time.Second,
			MinDelay:       1 * time.Second,
			MaxDelay:       2 * time.Second,
		},
		Fetcher: Fetcher{
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Browser: Browser{
			RenderTimeout:       30 * time.Second,
			ContentMarker:       ".book-slick-slider",
			MaxEditionRedirects: 5,
			Stealth:             true,
		},
		Proxy: Proxy{
			Enabled:     false,
			Rotation:    "round_robin",
			MinRequired: 4,
		},
		Storage: Storage{
			SQLitePath: "./data/bookgraph.db",
			Archive: Archive{
				Enabled:    false,
				URI:        "mongodb://localhost:27017",
				Database:   "bookgraph",
				Collection: "raw_records",
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration. It is built once at startup and passed
// to every component that needs it.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	DBPath      string `env:"DB_PATH" envDefault:"/data/db/yodel-image.db"`
	StoragePath string `env:"STORAGE_PATH" envDefault:"/data/images"`
	// AuthToken guards the /v1 API. Empty accepts any bearer token.
	AuthToken string `env:"AUTH_TOKEN"`
	// MaxUploadSize caps request bodies, including edit uploads.
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"20971520"`
	// MaxPixels bounds the area of every image the editor decodes or produces.
	MaxPixels int64 `env:"MAX_PIXELS" envDefault:"50000000"`

	// Remote generation API.
	APIURL string `env:"API_URL" envDefault:"https://yodelimage.com/api"`
	APIKey string `env:"API_KEY"`

	// WordPress REST API of the host site.
	RestURL       string `env:"REST_URL" envDefault:"http://localhost/wp-json/wp/v2"`
	RestNonce     string `env:"REST_NONCE"`
	WPUser        string `env:"WP_USER"`
	WPAppPassword string `env:"WP_APP_PASSWORD"`
	SVGSupport    bool   `env:"SVG_SUPPORT" envDefault:"false"`
	MetadataModel string `env:"METADATA_MODEL"`
	MetadataLang  string `env:"METADATA_LANGUAGE" envDefault:"en"`

	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PollMaxRetries int           `env:"POLL_MAX_RETRIES" envDefault:"10"`
	MaxConcurrency int           `env:"MAX_CONCURRENCY" envDefault:"4"`
}

// Load reads the configuration from YODEL_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "YODEL_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.PollMaxRetries < 1 {
		return nil, fmt.Errorf("YODEL_POLL_MAX_RETRIES must be at least 1")
	}
	if cfg.MaxUploadSize < 1 {
		return nil, fmt.Errorf("YODEL_MAX_UPLOAD_SIZE must be positive")
	}
	if cfg.MaxPixels < 1 {
		return nil, fmt.Errorf("YODEL_MAX_PIXELS must be positive")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("YODEL_MAX_CONCURRENCY must be at least 1")
	}
	return cfg, nil
}

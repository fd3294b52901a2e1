// Package assetconf reads the configuration of an upload context from
// ASSET_* environment variables on top of the banner or gallery preset.
package assetconf

import (
	"context"
	"fmt"
	"strings"
	"time"

	goenv "github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/caarlos0/env/v6"
	"github.com/docker/go-units"
	"github.com/storefront-io/go-assetkit/assets"
	"github.com/storefront-io/go-assetkit/assets/network"
	"github.com/storefront-io/go-assetkit/media"
)

// Profiles.
const (
	ProfileBanner  = "banner"
	ProfileGallery = "gallery"
)

// Stores.
const (
	StoreHTTP = "http"
	StoreS3   = "s3"
)

// ByteSize parses human readable sizes such as "10MiB", "512k" or "2048".
type ByteSize int64

// UnmarshalText ...
func (s *ByteSize) UnmarshalText(text []byte) error {
	size, err := units.RAMInBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*s = ByteSize(size)
	return nil
}

func (s ByteSize) String() string {
	return media.HumanSize(int64(s))
}

type (
	// Properties is the full configuration of one upload context.
	Properties struct {
		Profile string
		Store   string `env:"ASSET_STORE" envDefault:"http"`
		Verbose bool   `env:"ASSET_VERBOSE"`

		Limits LimitProperties  `envPrefix:"ASSET_"`
		Upload UploadProperties `envPrefix:"ASSET_UPLOAD_"`
		S3     S3Properties     `envPrefix:"ASSET_S3_"`
	}

	// LimitProperties override the preset of the selected profile.
	LimitProperties struct {
		MaxAssets            int      `env:"MAX_ASSETS"`
		MaxFileSize          ByteSize `env:"MAX_FILE_SIZE"`
		MinFileSize          ByteSize `env:"MIN_FILE_SIZE"`
		CompressThreshold    ByteSize `env:"COMPRESS_THRESHOLD"`
		MaxWidth             int      `env:"MAX_WIDTH"`
		MaxHeight            int      `env:"MAX_HEIGHT"`
		ReplaceMode          bool     `env:"REPLACE_MODE"`
		RejectDuplicateNames bool     `env:"REJECT_DUPLICATE_NAMES"`
	}

	UploadProperties struct {
		Endpoint       string        `env:"ENDPOINT"`
		DeleteEndpoint string        `env:"DELETE_ENDPOINT"`
		Token          string        `env:"TOKEN"`
		FieldName      string        `env:"FIELD" envDefault:"file"`
		MaxAttempts    int           `env:"MAX_ATTEMPTS"`
		Timeout        time.Duration `env:"TIMEOUT"`
		BackoffUnit    time.Duration `env:"BACKOFF_UNIT" envDefault:"1s"`
	}

	S3Properties struct {
		Region          string `env:"REGION"`
		Bucket          string `env:"BUCKET"`
		AccessKeyID     string `env:"ACCESS_KEY_ID"`
		SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
		Endpoint        string `env:"ENDPOINT"`
		Prefix          string `env:"PREFIX"`
		PublicBaseURL   string `env:"PUBLIC_BASE_URL"`
	}
)

// Preset returns the asset configuration of a profile.
func Preset(profile string) (assets.Config, error) {
	switch strings.ToLower(profile) {
	case ProfileGallery:
		return assets.GalleryConfig(), nil
	case ProfileBanner:
		return assets.BannerConfig(), nil
	}
	return assets.Config{}, fmt.Errorf("unknown profile: %s (expected %s or %s)", profile, ProfileBanner, ProfileGallery)
}

// Load parses the environment of repo. A non-empty profile wins over ASSET_PROFILE.
// The store settings are checked by Validate.
func Load(repo goenv.Repository, profile string) (*Properties, error) {
	if profile == "" {
		profile = repo.Get("ASSET_PROFILE")
	}
	if profile == "" {
		profile = ProfileGallery
	}
	profile = strings.ToLower(profile)
	preset, err := Preset(profile)
	if err != nil {
		return nil, err
	}

	props := &Properties{
		Profile: profile,
		Limits: LimitProperties{
			MaxAssets:            preset.MaxAssets,
			MaxFileSize:          ByteSize(preset.MaxBytesPerFile),
			MinFileSize:          ByteSize(preset.MinBytesPerFile),
			CompressThreshold:    ByteSize(preset.CompressThreshold),
			MaxWidth:             preset.DownscaleBounds.Width,
			MaxHeight:            preset.DownscaleBounds.Height,
			ReplaceMode:          preset.ReplaceMode,
			RejectDuplicateNames: preset.RejectDuplicateNames,
		},
		Upload: UploadProperties{
			MaxAttempts: preset.MaxRetries,
			Timeout:     preset.RequestTimeout,
		},
	}

	if err := env.Parse(props, env.Options{Environment: environment(repo)}); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}
	props.Store = strings.ToLower(props.Store)

	if err := props.AssetConfig().Validate(); err != nil {
		return nil, err
	}
	return props, nil
}

// Validate checks that the selected store is fully configured.
func (p *Properties) Validate() error {
	if err := p.AssetConfig().Validate(); err != nil {
		return err
	}

	switch p.Store {
	case StoreHTTP:
		if p.Upload.Endpoint == "" {
			return fmt.Errorf("ASSET_UPLOAD_ENDPOINT must be set for the %s store", StoreHTTP)
		}
	case StoreS3:
		if p.S3.Bucket == "" || p.S3.Region == "" {
			return fmt.Errorf("ASSET_S3_BUCKET and ASSET_S3_REGION must be set for the %s store", StoreS3)
		}
	default:
		return fmt.Errorf("unknown store: %s (expected %s or %s)", p.Store, StoreHTTP, StoreS3)
	}
	return nil
}

// AssetConfig ...
func (p *Properties) AssetConfig() assets.Config {
	return assets.Config{
		MaxAssets:            p.Limits.MaxAssets,
		MaxBytesPerFile:      int64(p.Limits.MaxFileSize),
		MinBytesPerFile:      int64(p.Limits.MinFileSize),
		MaxRetries:           p.Upload.MaxAttempts,
		RequestTimeout:       p.Upload.Timeout,
		DownscaleBounds:      media.Bounds{Width: p.Limits.MaxWidth, Height: p.Limits.MaxHeight},
		CompressThreshold:    int64(p.Limits.CompressThreshold),
		ReplaceMode:          p.Limits.ReplaceMode,
		RejectDuplicateNames: p.Limits.RejectDuplicateNames,
	}
}

// UploaderConfig ...
func (p *Properties) UploaderConfig() network.Config {
	config := p.AssetConfig().UploaderConfig(p.Upload.Endpoint)
	config.DeleteEndpoint = p.Upload.DeleteEndpoint
	config.Token = p.Upload.Token
	config.FieldName = p.Upload.FieldName
	config.BackoffUnit = p.Upload.BackoffUnit
	return config
}

// S3Params ...
func (p *Properties) S3Params() network.S3Params {
	return network.S3Params{
		Region:          p.S3.Region,
		Bucket:          p.S3.Bucket,
		AccessKeyID:     p.S3.AccessKeyID,
		SecretAccessKey: p.S3.SecretAccessKey,
		Endpoint:        p.S3.Endpoint,
		Prefix:          p.S3.Prefix,
		PublicBaseURL:   p.S3.PublicBaseURL,
	}
}

// NewStore creates the remote store selected by ASSET_STORE. Both stores share
// the attempts, timeout and backoff of UploaderConfig. observer may be nil.
func (p *Properties) NewStore(ctx context.Context, logger log.Logger, observer network.Observer) (network.Store, error) {
	if p.Store == StoreS3 {
		return network.NewS3Store(ctx, p.S3Params(), p.UploaderConfig(), logger, observer)
	}
	return network.NewUploader(p.UploaderConfig(), logger, observer), nil
}

// Print logs the configuration with secrets redacted.
func (p *Properties) Print(logger log.Logger) {
	logger.Infof("Configuration:")
	logger.Printf("- Profile: %s", p.Profile)
	logger.Printf("- Store: %s", p.Store)
	logger.Printf("- MaxAssets: %d", p.Limits.MaxAssets)
	logger.Printf("- MaxFileSize: %s", p.Limits.MaxFileSize)
	logger.Printf("- CompressThreshold: %s", p.Limits.CompressThreshold)
	logger.Printf("- DownscaleBounds: %dx%d", p.Limits.MaxWidth, p.Limits.MaxHeight)
	logger.Printf("- ReplaceMode: %t", p.Limits.ReplaceMode)
	switch p.Store {
	case StoreS3:
		logger.Printf("- Bucket: %s (%s)", p.S3.Bucket, p.S3.Region)
		logger.Printf("- AccessKeyID: %s", redact(p.S3.AccessKeyID))
		if p.S3.Endpoint != "" {
			logger.Printf("- Endpoint: %s", p.S3.Endpoint)
		}
	default:
		logger.Printf("- Endpoint: %s", p.Upload.Endpoint)
		logger.Printf("- Token: %s", redact(p.Upload.Token))
		logger.Printf("- MaxAttempts: %d", p.Upload.MaxAttempts)
		logger.Printf("- Timeout: %s", p.Upload.Timeout)
	}
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "*****"
}

func environment(repo goenv.Repository) map[string]string {
	envs := map[string]string{}
	for _, kv := range repo.List() {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		envs[key] = value
	}
	return envs
}

package internal

import (
	"fmt"

	"github.com/casalist/casalist/internal/asset"
	"github.com/casalist/casalist/internal/cleanup"
	"github.com/casalist/casalist/internal/database"
	"github.com/casalist/casalist/internal/image"
	"github.com/casalist/casalist/internal/ingest"
	"github.com/casalist/casalist/internal/video"
	"github.com/ilyakaznacheev/cleanenv"
)

// CasalistConfig is the struct used to contain the
// various user config supplied by file, or
// manually inside the code.
type CasalistConfig struct {
	Database    database.DatabaseConfig `yaml:"database" env-required:"true"`
	Assets      asset.Config            `yaml:"assets"`
	Ingest      ingest.Config           `yaml:"ingest"`
	Transcoder  video.TranscoderConfig  `yaml:"transcoder"`
	Image       ImageConfig             `yaml:"image"`
	Cleanup     cleanup.Config          `yaml:"cleanup"`
	ApiHostAddr string                  `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0"`
	ApiHostPort string                  `yaml:"port" env:"HOST_PORT" env-default:"8080"`
}

// ImageConfig holds the default transformation applied to every uploaded
// photo. Individual requests cannot override these; listings stay
// visually uniform across the marketplace.
type ImageConfig struct {
	MaxWidth  int    `yaml:"max_width" env:"IMAGE_MAX_WIDTH" env-default:"1920"`
	MaxHeight int    `yaml:"max_height" env:"IMAGE_MAX_HEIGHT" env-default:"1080"`
	Quality   int    `yaml:"quality" env:"IMAGE_QUALITY" env-default:"85"`
	Format    string `yaml:"format" env:"IMAGE_FORMAT" env-default:"jpeg"`
}

// TransformOptions maps the configured defaults to the options the image
// pipeline consumes.
func (config *ImageConfig) TransformOptions() image.Options {
	return image.Options{
		MaxWidth:  config.MaxWidth,
		MaxHeight: config.MaxHeight,
		Quality:   config.Quality,
		Format:    image.Format(config.Format),
	}
}

// Loads a configuration file formatted in YAML in to a
// CasalistConfig struct ready to be passed to the composition root
func (config *CasalistConfig) LoadFromFile(configPath string) error {
	err := cleanenv.ReadConfig(configPath, config)
	if err != nil {
		return fmt.Errorf("failed to load configuration for CasalistConfig - %v", err.Error())
	}

	return nil
}

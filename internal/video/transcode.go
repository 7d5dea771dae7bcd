// Package video turns user-uploaded videos into complete, seekable,
// fast-start MP4s (H.264/AAC) via an external encoder, and reports the
// byte-size compression achieved by the transcode.
package video

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/casalist/casalist/pkg/logger"
	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/go-playground/validator/v10"
)

var (
	log      = logger.Get("Transcoder")
	validate = validator.New()
)

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// defaultBitrateKbps maps a requested quality to the bitrate cap applied
// to the encode. An explicit per-request override wins over this table.
var defaultBitrateKbps = map[Quality]int{
	QualityLow:    500,
	QualityMedium: 1000,
	QualityHigh:   2000,
}

type (
	// TranscoderConfig carries the external encoder binary locations.
	// These are injected configuration resolved at startup, never
	// hardcoded paths.
	TranscoderConfig struct {
		FfmpegBinPath  string `yaml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"/usr/bin/ffmpeg"`
		FfprobeBinPath string `yaml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"/usr/bin/ffprobe"`
	}

	// Options for a single transcode. A zero BitrateKbps selects the
	// quality-table default.
	Options struct {
		Quality     Quality `validate:"oneof=low medium high"`
		MaxWidth    int     `validate:"gt=0"`
		MaxHeight   int     `validate:"gt=0"`
		FPS         int     `validate:"gt=0"`
		BitrateKbps int     `validate:"gte=0"`
	}

	// Progress mirrors the encoder's periodic progress reports.
	Progress struct {
		FramesProcessed string
		CurrentTime     string
		CurrentBitrate  string
		Progress        float64
		Speed           string
	}

	// Result describes a completed transcode. Duration and Resolution
	// are best-effort probe metadata of the source and may be empty.
	Result struct {
		Filename         string
		Path             string
		OriginalSize     int64
		CompressedSize   int64
		CompressionRatio float64
		Duration         string
		Resolution       string
	}

	// Command abstracts the external encoder invocation so tests can
	// substitute the binary with a scripted outcome.
	Command interface {
		Run(ctx context.Context, opts transcoder.Options, onProgress func(*Progress)) error
	}

	CommandFactory func(inputPath string, outputPath string, config TranscoderConfig) Command

	// Prober extracts container metadata from a staged source file.
	// Failures are swallowed by the caller; probing is advisory only.
	Prober func(path string, config TranscoderConfig) (duration string, resolution string, err error)

	Transcoder struct {
		config TranscoderConfig

		// NewCommand and Probe default to the ffmpeg/ffprobe backed
		// implementations; tests may replace them.
		NewCommand CommandFactory
		Probe      Prober
	}
)

// TranscodeError wraps an encoder failure with the originating filename.
type TranscodeError struct {
	Filename string
	err      error
}

func (e TranscodeError) Error() string {
	return fmt.Sprintf("failed to transcode video '%s': %s", e.Filename, e.err.Error())
}

func (e TranscodeError) Unwrap() error { return e.err }

func DefaultOptions() Options {
	return Options{
		Quality:   QualityMedium,
		MaxWidth:  1920,
		MaxHeight: 1080,
		FPS:       30,
	}
}

func NewTranscoder(config TranscoderConfig) *Transcoder {
	return &Transcoder{
		config:     config,
		NewCommand: newFfmpegCommand,
		Probe:      probeFile,
	}
}

// Transcode stages the raw buffer to a collision-safe temp file beside
// the destination, runs the external encoder against it, and measures
// the output. The staged file is removed on every exit path. Cancelling
// the context kills the in-flight encoder process.
func (t *Transcoder) Transcode(ctx context.Context, data []byte, destPath string, originalName string, opts Options) (*Result, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid transcode options: %w", err)
	}

	staged, err := stageBuffer(data, destPath)
	if err != nil {
		return nil, TranscodeError{Filename: originalName, err: err}
	}
	defer staged.Release()

	duration, resolution, probeErr := t.Probe(staged.Path(), t.config)
	if probeErr != nil {
		log.Emit(logger.DEBUG, "Source metadata unavailable for '%s': %v\n", originalName, probeErr)
	}

	command := t.NewCommand(staged.Path(), destPath, t.config)
	err = command.Run(ctx, buildEncoderOptions(opts), func(progress *Progress) {
		log.Emit(logger.VERBOSE, "Transcode of '%s' at %.2f%% (speed %s)\n", originalName, progress.Progress, progress.Speed)
	})
	if err != nil {
		return nil, TranscodeError{Filename: originalName, err: err}
	}

	outputInfo, err := os.Stat(destPath)
	if err != nil {
		return nil, TranscodeError{Filename: originalName, err: fmt.Errorf("encoder reported success but output is unreadable: %w", err)}
	}

	originalSize := int64(len(data))
	return &Result{
		Filename:         originalName,
		Path:             destPath,
		OriginalSize:     originalSize,
		CompressedSize:   outputInfo.Size(),
		CompressionRatio: CompressionRatio(originalSize, outputInfo.Size()),
		Duration:         duration,
		Resolution:       resolution,
	}, nil
}

// CompressionRatio is the percentage byte-size reduction between the
// original and transcoded file, rounded to two decimal places.
func CompressionRatio(originalSize int64, compressedSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}

	ratio := (float64(originalSize-compressedSize) / float64(originalSize)) * 100
	return math.Round(ratio*100) / 100
}

// buildEncoderOptions constructs the encoder argument set: H.264 video
// with AAC audio, the fps cap, a letterbox pad to the exact target box,
// CRF 23 with a fast preset as a quality floor beneath the bitrate cap,
// and fast-start metadata so the output is progressively streamable.
func buildEncoderOptions(opts Options) transcoder.Options {
	bitrateKbps := opts.BitrateKbps
	if bitrateKbps == 0 {
		bitrateKbps = defaultBitrateKbps[opts.Quality]
	}

	videoCodec := "libx264"
	audioCodec := "aac"
	videoBitrate := fmt.Sprintf("%dk", bitrateKbps)
	frameRate := opts.FPS
	crf := uint32(23)
	preset := "fast"
	movFlags := "+faststart"
	outputFormat := "mp4"
	overwrite := true
	videoFilter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		opts.MaxWidth, opts.MaxHeight, opts.MaxWidth, opts.MaxHeight,
	)

	return &ffmpeg.Options{
		VideoCodec:   &videoCodec,
		AudioCodec:   &audioCodec,
		VideoBitRate: &videoBitrate,
		FrameRate:    &frameRate,
		Crf:          &crf,
		Preset:       &preset,
		MovFlags:     &movFlags,
		OutputFormat: &outputFormat,
		Overwrite:    &overwrite,
		VideoFilter:  &videoFilter,
	}
}

// Package ingest gatekeeps user-uploaded media batches before any
// processing occurs. A batch which fails validation here must produce
// zero side effects downstream.
package ingest

import (
	"errors"
	"fmt"
)

type (
	// File is the upstream contract for a single uploaded file. The
	// caller (the HTTP layer) has already authenticated and authorized
	// the request; this package only cares about the payload itself.
	File struct {
		Data         []byte
		OriginalName string
		MimeType     string
		Size         int64
	}

	// Config carries the caller-supplied batch limits. All limits are
	// resolved from configuration at startup rather than hardcoded so
	// deployments can tune them.
	Config struct {
		MaxImagesPerBatch int   `yaml:"max_images_per_batch" env:"INGEST_MAX_IMAGES_PER_BATCH" env-default:"30"`
		MaxImagesPerHouse int   `yaml:"max_images_per_house" env:"INGEST_MAX_IMAGES_PER_HOUSE" env-default:"50"`
		MinImagesOnCreate int   `yaml:"min_images_on_create" env:"INGEST_MIN_IMAGES_ON_CREATE" env-default:"5"`
		MaxVideosPerBatch int   `yaml:"max_videos_per_batch" env:"INGEST_MAX_VIDEOS_PER_BATCH" env-default:"5"`
		MaxVideoFileBytes int64 `yaml:"max_video_file_bytes" env:"INGEST_MAX_VIDEO_FILE_BYTES" env-default:"524288000"`
	}

	Validator struct {
		config Config
	}
)

var (
	ErrEmptyBatch          = errors.New("no files supplied in batch")
	ErrTooManyFiles        = errors.New("too many files in batch")
	ErrTooFewFiles         = errors.New("too few files in batch")
	ErrFileTooLarge        = errors.New("file exceeds the maximum allowed size")
	ErrHouseCapacity       = errors.New("house image capacity exceeded")
	ErrUnsupportedMimeType = errors.New("file mime type is not accepted")
)

// ValidationError indicates a batch was rejected before any processing
// occurred. The offending filename is recorded when the failure concerns
// a single file rather than the batch shape.
type ValidationError struct {
	Filename string
	err      error
}

func (e ValidationError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("validation of '%s' failed: %s", e.Filename, e.err.Error())
	}

	return fmt.Sprintf("batch validation failed: %s", e.err.Error())
}

func (e ValidationError) Unwrap() error { return e.err }

var acceptedImageMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

var acceptedVideoMimeTypes = map[string]struct{}{
	"video/mp4":        {},
	"video/avi":        {},
	"video/mov":        {},
	"video/quicktime":  {},
	"video/x-msvideo":  {},
	"video/webm":       {},
	"video/mkv":        {},
	"video/x-matroska": {},
}

func NewValidator(config Config) *Validator {
	return &Validator{config: config}
}

func (v *Validator) Config() Config { return v.config }

// ValidateImageBatch checks the shape of an image upload batch: the
// per-call file count cap, the listing-creation minimum (only when
// initialUpload is set), and each file's mime type. Size limits are not
// applied to images; re-encoding bounds their stored footprint.
func (v *Validator) ValidateImageBatch(files []File, initialUpload bool) error {
	if len(files) == 0 {
		return ValidationError{err: ErrEmptyBatch}
	}

	if len(files) > v.config.MaxImagesPerBatch {
		return ValidationError{err: fmt.Errorf("%w: %d supplied, maximum is %d", ErrTooManyFiles, len(files), v.config.MaxImagesPerBatch)}
	}

	if initialUpload && len(files) < v.config.MinImagesOnCreate {
		return ValidationError{err: fmt.Errorf("%w: %d supplied, a new listing requires at least %d images", ErrTooFewFiles, len(files), v.config.MinImagesOnCreate)}
	}

	for _, file := range files {
		if _, ok := acceptedImageMimeTypes[file.MimeType]; !ok {
			return ValidationError{Filename: file.OriginalName, err: fmt.Errorf("%w: %s", ErrUnsupportedMimeType, file.MimeType)}
		}
	}

	return nil
}

// ValidateVideoBatch checks the shape of a video upload batch: the
// per-call file count cap, each file's mime type, and the per-file byte
// size ceiling (transcoding is far too expensive to discover an oversized
// file late).
func (v *Validator) ValidateVideoBatch(files []File) error {
	if len(files) == 0 {
		return ValidationError{err: ErrEmptyBatch}
	}

	if len(files) > v.config.MaxVideosPerBatch {
		return ValidationError{err: fmt.Errorf("%w: %d supplied, maximum is %d", ErrTooManyFiles, len(files), v.config.MaxVideosPerBatch)}
	}

	for _, file := range files {
		if _, ok := acceptedVideoMimeTypes[file.MimeType]; !ok {
			return ValidationError{Filename: file.OriginalName, err: fmt.Errorf("%w: %s", ErrUnsupportedMimeType, file.MimeType)}
		}

		if file.Size > v.config.MaxVideoFileBytes {
			return ValidationError{Filename: file.OriginalName, err: fmt.Errorf("%w: %d bytes, maximum is %d", ErrFileTooLarge, file.Size, v.config.MaxVideoFileBytes)}
		}
	}

	return nil
}

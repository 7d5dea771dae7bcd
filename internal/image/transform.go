// Package image decodes user-uploaded photos and re-encodes them into
// normalized, storage-ready assets: bounded (never enlarged) dimensions,
// a target format and a caller-chosen quality.
package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	_ "golang.org/x/image/webp"
)

type Format string

const (
	JPEG Format = "jpeg"
	WebP Format = "webp"
	PNG  Format = "png"
)

type (
	// Options controls a single transformation. Uploaded GIFs are
	// accepted on input but always normalized to one of these output
	// formats.
	Options struct {
		MaxWidth  int    `validate:"gt=0"`
		MaxHeight int    `validate:"gt=0"`
		Quality   int    `validate:"gte=1,lte=100"`
		Format    Format `validate:"oneof=jpeg webp png"`
	}

	// Result is the storage-ready output of a transformation. Width and
	// Height are re-measured from the encoded bytes rather than trusted
	// from the input metadata.
	Result struct {
		Data     []byte
		Filename string
		Width    int
		Height   int
		Size     int64
		MimeType string
	}

	Transformer struct{}
)

// TransformError is a per-file codec failure. The orchestrator isolates
// it to the offending file rather than aborting the batch.
type TransformError struct {
	Filename string
	err      error
}

func (e TransformError) Error() string {
	return fmt.Sprintf("failed to transform image '%s': %s", e.Filename, e.err.Error())
}

func (e TransformError) Unwrap() error { return e.err }

var validate = validator.New()

func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform decodes the raw buffer, resizes it to fit within the
// configured bounding box (preserving aspect ratio and never enlarging
// past the source dimensions), and re-encodes it at the requested
// quality. The generated filename is '{basename}_{epochMillis}.{ext}'.
func (t *Transformer) Transform(data []byte, originalName string, opts Options) (*Result, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid transform options: %w", err)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, TransformError{Filename: originalName, err: fmt.Errorf("decode failed: %w", err)}
	}

	// Fit only ever scales down; sources already within the box pass
	// through at their original dimensions.
	resized := imaging.Fit(src, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	switch opts.Format {
	case JPEG:
		err = imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	case WebP:
		err = webp.Encode(&buf, resized, &webp.Options{Quality: float32(opts.Quality)})
	case PNG:
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		err = encoder.Encode(&buf, resized)
	}
	if err != nil {
		return nil, TransformError{Filename: originalName, err: fmt.Errorf("encode to %s failed: %w", opts.Format, err)}
	}

	encoded := buf.Bytes()
	width, height, err := measureEncoded(encoded, opts.Format)
	if err != nil {
		return nil, TransformError{Filename: originalName, err: fmt.Errorf("failed to measure encoded output: %w", err)}
	}

	return &Result{
		Data:     encoded,
		Filename: generateFilename(originalName, opts.Format),
		Width:    width,
		Height:   height,
		Size:     int64(len(encoded)),
		MimeType: fmt.Sprintf("image/%s", opts.Format),
	}, nil
}

// measureEncoded reads the dimensions back out of the encoded bytes.
// The chai2010 encoder does not register itself with the image package,
// so webp output is measured through its own header reader.
func measureEncoded(encoded []byte, format Format) (int, int, error) {
	if format == WebP {
		width, height, _, err := webp.GetInfo(encoded)
		return width, height, err
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(encoded))
	if err != nil {
		return 0, 0, err
	}

	return config.Width, config.Height, nil
}

func generateFilename(originalName string, format Format) string {
	basename := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	return fmt.Sprintf("%s_%d.%s", basename, time.Now().UnixMilli(), format)
}

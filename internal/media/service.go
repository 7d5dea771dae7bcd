// Package media drives the ingestion pipeline: validation, image
// transform / video transcode, filesystem persistence and catalog
// bookkeeping, with a per-asset-type failure policy at the batch level.
package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/casalist/casalist/internal/asset"
	"github.com/casalist/casalist/internal/event"
	"github.com/casalist/casalist/internal/image"
	"github.com/casalist/casalist/internal/ingest"
	"github.com/casalist/casalist/internal/video"
	"github.com/casalist/casalist/pkg/logger"
	"github.com/google/uuid"
)

var (
	log = logger.Get("MediaServ")

	// ErrBatchFailed indicates an image batch in which not a single file
	// could be processed. The per-file errors travel alongside it in the
	// batch result.
	ErrBatchFailed = errors.New("no files in the batch could be processed")
)

type (
	transformer interface {
		Transform(data []byte, originalName string, opts image.Options) (*image.Result, error)
	}

	transcoder interface {
		Transcode(ctx context.Context, data []byte, destPath string, originalName string, opts video.Options) (*video.Result, error)
	}

	assetStore interface {
		Save(data []byte, filename string, houseID int64, kind asset.Kind) (string, string, error)
		FolderPath(houseID int64, kind asset.Kind) string
		DeleteFolder(houseID int64, kind asset.Kind) error
		DeleteImageFile(path string)
		URL(houseID int64, kind asset.Kind, filename string) string
	}

	imageCatalog interface {
		Save(image *Image) error
		ListForHouse(houseID int64) ([]*Image, error)
		Get(id uuid.UUID) (*Image, error)
		CountForHouse(houseID int64) (int, error)
		SetMain(imageID uuid.UUID, houseID int64) error
		Reorder(houseID int64, orders []ImageOrder) error
		Delete(id uuid.UUID) error
		DeleteForHouse(houseID int64) ([]*Image, error)
	}

	videoCatalog interface {
		ListForHouse(houseID int64) ([]*Video, error)
		Delete(houseID int64, filename string) error
	}

	validator interface {
		ValidateImageBatch(files []ingest.File, initialUpload bool) error
		ValidateVideoBatch(files []ingest.File) error
		Config() ingest.Config
	}

	// FileError records one file's failure, keyed by the original
	// filename the caller supplied.
	FileError struct {
		Filename string `json:"filename"`
		Message  string `json:"error"`
	}

	// ImageUploadOptions carries the per-request knobs for an image
	// batch. InitialUpload marks the create-listing flow, which enforces
	// a minimum batch size.
	ImageUploadOptions struct {
		InitialUpload bool
		Transform     image.Options
	}

	// ImageBatchResult reports a partial-success image batch: the rows
	// that made it, plus a per-file error ledger for those that did not.
	ImageBatchResult struct {
		UploadedImages []*Image    `json:"uploadedImages"`
		Errors         []FileError `json:"errors,omitempty"`
	}

	// UploadedVideo is the caller-facing view of one transcoded video.
	UploadedVideo struct {
		Filename         string  `json:"filename"`
		URL              string  `json:"url"`
		OriginalSize     int64   `json:"originalSize"`
		CompressedSize   int64   `json:"compressedSize"`
		CompressionRatio float64 `json:"compressionRatio"`
		Duration         string  `json:"duration,omitempty"`
		Resolution       string  `json:"resolution,omitempty"`
	}

	// VideoBatchResult aggregates a fully-successful video batch.
	VideoBatchResult struct {
		Videos                  []*UploadedVideo `json:"videos"`
		TotalOriginalSize       int64            `json:"totalOriginalSize"`
		TotalCompressedSize     int64            `json:"totalCompressedSize"`
		AverageCompressionRatio float64          `json:"averageCompressionRatio"`
	}

	// Service orchestrates the pipeline. Files within one batch are
	// processed strictly sequentially to bound codec resource use;
	// distinct requests run concurrently with no shared state beyond
	// the database and the per-house directories.
	Service struct {
		validator    validator
		transformer  transformer
		transcoder   transcoder
		assets       assetStore
		imageCatalog imageCatalog
		videoCatalog videoCatalog
		eventBus     event.EventDispatcher
	}
)

func (e FileError) String() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

func New(
	validator validator,
	transformer transformer,
	transcoder transcoder,
	assets assetStore,
	imageCatalog imageCatalog,
	videoCatalog videoCatalog,
	eventBus event.EventDispatcher,
) *Service {
	return &Service{
		validator:    validator,
		transformer:  transformer,
		transcoder:   transcoder,
		assets:       assets,
		imageCatalog: imageCatalog,
		videoCatalog: videoCatalog,
		eventBus:     eventBus,
	}
}

// UploadImages validates, transforms and persists an image batch for the
// given house.
//
// Failure policy is PARTIAL SUCCESS: a single file's failure is recorded
// against its original filename without aborting the remaining files.
// Zero successes fails the whole request (ErrBatchFailed); one or more
// successes yields a result carrying any per-file errors.
//
// The house's total image count may never exceed the configured cap; a
// batch that would breach it is rejected wholesale with no files
// processed. The first image stored for a house with no existing images
// is designated the main image by convention.
func (service *Service) UploadImages(ctx context.Context, houseID int64, files []ingest.File, opts ImageUploadOptions) (*ImageBatchResult, error) {
	if err := service.validator.ValidateImageBatch(files, opts.InitialUpload); err != nil {
		return nil, err
	}

	existingCount, err := service.imageCatalog.CountForHouse(houseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing images for house %d: %w", houseID, err)
	}

	maxPerHouse := service.validator.Config().MaxImagesPerHouse
	if existingCount+len(files) > maxPerHouse {
		return nil, fmt.Errorf("house %d holds %d images and the batch adds %d (cap %d): %w",
			houseID, existingCount, len(files), maxPerHouse, ingest.ErrHouseCapacity)
	}

	result := &ImageBatchResult{UploadedImages: make([]*Image, 0, len(files))}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		uploaded, err := service.processImageFile(houseID, file, opts.Transform, existingCount+len(result.UploadedImages))
		if err != nil {
			log.Emit(logger.WARNING, "Image '%s' for house %d failed: %v\n", file.OriginalName, houseID, err)
			result.Errors = append(result.Errors, FileError{Filename: file.OriginalName, Message: err.Error()})
			continue
		}

		result.UploadedImages = append(result.UploadedImages, uploaded)
	}

	if len(result.UploadedImages) == 0 {
		return result, ErrBatchFailed
	}

	log.Emit(logger.SUCCESS, "Stored %d/%d images for house %d\n", len(result.UploadedImages), len(files), houseID)
	service.eventBus.Dispatch(event.ImageAddedEvent, houseID)
	return result, nil
}

// processImageFile runs the full pipeline for one image: transform,
// persist bytes to disk, insert the catalog row.
func (service *Service) processImageFile(houseID int64, file ingest.File, opts image.Options, position int) (*Image, error) {
	processed, err := service.transformer.Transform(file.Data, file.OriginalName, opts)
	if err != nil {
		return nil, err
	}

	path, url, err := service.assets.Save(processed.Data, processed.Filename, houseID, asset.KindImage)
	if err != nil {
		return nil, fmt.Errorf("failed to persist image: %w", err)
	}

	row := &Image{
		ID:           uuid.New(),
		HouseID:      houseID,
		Filename:     processed.Filename,
		OriginalName: file.OriginalName,
		Path:         path,
		URL:          url,
		Size:         processed.Size,
		MimeType:     processed.MimeType,
		Width:        processed.Width,
		Height:       processed.Height,
		IsMain:       position == 0,
		SortOrder:    position,
		CreatedAt:    time.Now().UTC(),
	}

	if err := service.imageCatalog.Save(row); err != nil {
		// Leave the written file for the cleanup flow; the catalog row
		// is what defines existence.
		return nil, fmt.Errorf("failed to catalog image: %w", err)
	}

	return row, nil
}

// UploadVideos validates and transcodes a video batch for the given
// house.
//
// Failure policy is FAIL-FAST: the first file's transcode failure aborts
// the entire batch and the remaining files are never attempted (nor
// staged). Transcoding is far more expensive than image work, so
// continuing after a failure would burn encoder time on a request that
// can no longer fully succeed.
func (service *Service) UploadVideos(ctx context.Context, houseID int64, files []ingest.File, opts video.Options) (*VideoBatchResult, error) {
	if err := service.validator.ValidateVideoBatch(files); err != nil {
		return nil, err
	}

	result := &VideoBatchResult{Videos: make([]*UploadedVideo, 0, len(files))}
	ratioSum := 0.0
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		filename := fmt.Sprintf("video_%d_%d.mp4", i+1, time.Now().UnixMilli())
		destPath := filepath.Join(service.assets.FolderPath(houseID, asset.KindVideo), filename)

		transcoded, err := service.transcoder.Transcode(ctx, file.Data, destPath, file.OriginalName, opts)
		if err != nil {
			log.Emit(logger.ERROR, "Video batch for house %d aborted at file %d ('%s'): %v\n", houseID, i+1, file.OriginalName, err)
			return nil, err
		}

		ratioSum += transcoded.CompressionRatio
		result.TotalOriginalSize += transcoded.OriginalSize
		result.TotalCompressedSize += transcoded.CompressedSize
		result.Videos = append(result.Videos, &UploadedVideo{
			Filename:         filename,
			URL:              service.assets.URL(houseID, asset.KindVideo, filename),
			OriginalSize:     transcoded.OriginalSize,
			CompressedSize:   transcoded.CompressedSize,
			CompressionRatio: transcoded.CompressionRatio,
			Duration:         transcoded.Duration,
			Resolution:       transcoded.Resolution,
		})
	}

	if len(result.Videos) > 0 {
		result.AverageCompressionRatio = math.Round(ratioSum/float64(len(result.Videos))*100) / 100
	}

	log.Emit(logger.SUCCESS, "Transcoded %d videos for house %d (%.2f%% average reduction)\n", len(result.Videos), houseID, result.AverageCompressionRatio)
	service.eventBus.Dispatch(event.VideoAddedEvent, houseID)
	return result, nil
}

// ListImages returns the house's image rows ordered for display.
func (service *Service) ListImages(houseID int64) ([]*Image, error) {
	return service.imageCatalog.ListForHouse(houseID)
}

// ListVideos re-derives the house's video set from the filesystem.
func (service *Service) ListVideos(houseID int64) ([]*Video, error) {
	return service.videoCatalog.ListForHouse(houseID)
}

// SetMainImage atomically moves the main flag to the given image.
func (service *Service) SetMainImage(imageID uuid.UUID, houseID int64) error {
	return service.imageCatalog.SetMain(imageID, houseID)
}

// ReorderImages atomically applies the given positions to the house's
// images.
func (service *Service) ReorderImages(houseID int64, orders []ImageOrder) error {
	return service.imageCatalog.Reorder(houseID, orders)
}

// DeleteImage resolves the row, best-effort unlinks its backing file,
// then deletes the row unconditionally. A file already missing from disk
// never blocks the row deletion.
func (service *Service) DeleteImage(id uuid.UUID) error {
	row, err := service.imageCatalog.Get(id)
	if err != nil {
		return err
	}

	service.assets.DeleteImageFile(row.Path)
	return service.imageCatalog.Delete(id)
}

// DeleteVideo unlinks the named video from the house's subtree; as the
// filesystem is the only record, this also removes it from the catalog.
func (service *Service) DeleteVideo(houseID int64, filename string) error {
	return service.videoCatalog.Delete(houseID, filename)
}

// PurgeHouseMedia removes everything this pipeline ever produced for a
// house: all catalog rows, their backing files, and both media subtrees.
// Invoked by the cleanup service when a listing is deleted.
func (service *Service) PurgeHouseMedia(houseID int64) error {
	if _, err := service.imageCatalog.DeleteForHouse(houseID); err != nil {
		return fmt.Errorf("failed to purge image rows for house %d: %w", houseID, err)
	}

	if err := service.assets.DeleteFolder(houseID, asset.KindImage); err != nil {
		return err
	}

	if err := service.assets.DeleteFolder(houseID, asset.KindVideo); err != nil {
		return err
	}

	log.Emit(logger.REMOVE, "Purged all media for house %d\n", houseID)
	return nil
}

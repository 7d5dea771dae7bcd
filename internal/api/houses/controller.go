package houses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/casalist/casalist/internal/image"
	"github.com/casalist/casalist/internal/ingest"
	"github.com/casalist/casalist/internal/media"
	"github.com/casalist/casalist/internal/video"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	// Service is the subset of the media pipeline the HTTP layer needs.
	Service interface {
		UploadImages(ctx context.Context, houseID int64, files []ingest.File, opts media.ImageUploadOptions) (*media.ImageBatchResult, error)
		UploadVideos(ctx context.Context, houseID int64, files []ingest.File, opts video.Options) (*media.VideoBatchResult, error)
		ListImages(houseID int64) ([]*media.Image, error)
		ListVideos(houseID int64) ([]*media.Video, error)
		SetMainImage(imageID uuid.UUID, houseID int64) error
		ReorderImages(houseID int64, orders []media.ImageOrder) error
		DeleteImage(id uuid.UUID) error
		DeleteVideo(houseID int64, filename string) error
	}

	Controller struct {
		service          Service
		transformDefault image.Options
	}

	setMainRequest struct {
		ImageID uuid.UUID `json:"imageId"`
	}

	reorderRequest struct {
		Orders []media.ImageOrder `json:"orders"`
	}
)

func New(service Service, transformDefault image.Options) *Controller {
	return &Controller{service: service, transformDefault: transformDefault}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST(":id/images/", controller.uploadImages)
	eg.GET(":id/images/", controller.listImages)
	eg.PUT(":id/images/main/", controller.setMainImage)
	eg.PUT(":id/images/order/", controller.reorderImages)
	eg.DELETE(":id/images/:imageId/", controller.deleteImage)

	eg.POST(":id/videos/", controller.uploadVideos)
	eg.GET(":id/videos/", controller.listVideos)
	eg.DELETE(":id/videos/:filename/", controller.deleteVideo)
}

// uploadImages accepts a multipart form with one or more 'images' files
// and runs them through the transformation pipeline. The 'initial' query
// parameter marks the create-listing flow, where a minimum number of
// photos is enforced. A partially-failed batch still returns 200, with
// the per-file errors alongside the uploaded rows.
func (controller *Controller) uploadImages(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	files, err := readMultipartFiles(ec, "images")
	if err != nil {
		return err
	}

	opts := media.ImageUploadOptions{
		InitialUpload: ec.QueryParam("initial") == "true",
		Transform:     controller.transformDefault,
	}

	result, err := controller.service.UploadImages(ec.Request().Context(), houseID, files, opts)
	if err != nil {
		if errors.Is(err, media.ErrBatchFailed) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, result)
		}

		return wrapUploadError(err)
	}

	return ec.JSON(http.StatusOK, result)
}

func (controller *Controller) listImages(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	images, err := controller.service.ListImages(houseID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, images)
}

func (controller *Controller) setMainImage(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	var request setMainRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	if err := controller.service.SetMainImage(request.ImageID, houseID); err != nil {
		return wrapCatalogError(err)
	}

	return ec.NoContent(http.StatusNoContent)
}

func (controller *Controller) reorderImages(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	var request reorderRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	if err := controller.service.ReorderImages(houseID, request.Orders); err != nil {
		return wrapCatalogError(err)
	}

	return ec.NoContent(http.StatusNoContent)
}

func (controller *Controller) deleteImage(ec echo.Context) error {
	imageID, err := uuid.Parse(ec.Param("imageId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Image ID '%s' is not a valid UUID", ec.Param("imageId")))
	}

	if err := controller.service.DeleteImage(imageID); err != nil {
		return wrapCatalogError(err)
	}

	return ec.NoContent(http.StatusNoContent)
}

// uploadVideos accepts a multipart form with one or more 'videos' files
// and transcodes them sequentially. Optional 'quality' and 'bitrate'
// form values override the encoder defaults. Unlike images, a single
// transcode failure fails the entire request.
func (controller *Controller) uploadVideos(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	files, err := readMultipartFiles(ec, "videos")
	if err != nil {
		return err
	}

	opts := video.DefaultOptions()
	if quality := ec.FormValue("quality"); quality != "" {
		opts.Quality = video.Quality(quality)
	}
	if bitrate := ec.FormValue("bitrate"); bitrate != "" {
		kbps, err := strconv.Atoi(bitrate)
		if err != nil || kbps < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Bitrate '%s' is not a valid kbps value", bitrate))
		}
		opts.BitrateKbps = kbps
	}

	result, err := controller.service.UploadVideos(ec.Request().Context(), houseID, files, opts)
	if err != nil {
		return wrapUploadError(err)
	}

	return ec.JSON(http.StatusOK, result)
}

func (controller *Controller) listVideos(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	videos, err := controller.service.ListVideos(houseID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, videos)
}

func (controller *Controller) deleteVideo(ec echo.Context) error {
	houseID, err := parseHouseID(ec)
	if err != nil {
		return err
	}

	if err := controller.service.DeleteVideo(houseID, ec.Param("filename")); err != nil {
		return wrapCatalogError(err)
	}

	return ec.NoContent(http.StatusNoContent)
}

func parseHouseID(ec echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ec.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("House ID '%s' is not valid", ec.Param("id")))
	}

	return id, nil
}

// readMultipartFiles buffers every file under the given form field name.
// Buffering in memory is acceptable here as the validator bounds both
// per-file size and batch count before any heavy work begins.
func readMultipartFiles(ec echo.Context, field string) ([]ingest.File, error) {
	form, err := ec.MultipartForm()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Expected multipart form: %s", err.Error()))
	}

	headers := form.File[field]
	files := make([]ingest.File, 0, len(headers))
	for _, header := range headers {
		file, err := readMultipartFile(header)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to read uploaded file '%s': %s", header.Filename, err.Error()))
		}

		files = append(files, file)
	}

	return files, nil
}

func readMultipartFile(header *multipart.FileHeader) (ingest.File, error) {
	source, err := header.Open()
	if err != nil {
		return ingest.File{}, err
	}
	defer source.Close()

	data, err := io.ReadAll(source)
	if err != nil {
		return ingest.File{}, err
	}

	return ingest.File{
		Data:         data,
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         header.Size,
	}, nil
}

// wrapUploadError maps pipeline failures to HTTP statuses. Validation
// failures are the caller's fault; anything else is reported as an
// internal failure.
func wrapUploadError(err error) error {
	var validationErr ingest.ValidationError
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, ingest.ErrHouseCapacity),
		errors.Is(err, ingest.ErrEmptyBatch),
		errors.Is(err, ingest.ErrTooManyFiles),
		errors.Is(err, ingest.ErrTooFewFiles),
		errors.Is(err, ingest.ErrFileTooLarge),
		errors.Is(err, ingest.ErrUnsupportedMimeType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(499, "Request cancelled")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func wrapCatalogError(err error) error {
	switch {
	case errors.Is(err, media.ErrImageNotFound), errors.Is(err, media.ErrVideoNotFound):
		return echo.ErrNotFound
	case errors.Is(err, media.ErrForeignImages), errors.Is(err, media.ErrDuplicateOrder):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

package media_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/casalist/casalist/internal/asset"
	"github.com/casalist/casalist/internal/event"
	"github.com/casalist/casalist/internal/image"
	"github.com/casalist/casalist/internal/ingest"
	"github.com/casalist/casalist/internal/media"
	"github.com/casalist/casalist/internal/video"
	"github.com/casalist/casalist/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// A default event bus which should be used as a NOOP event bus. DO NOT
// subscribe to this inside of a test as the subscribers are not removed
// between tests.
var defaultEventBus = event.New()

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

var testIngestConfig = ingest.Config{
	MaxImagesPerBatch: 30,
	MaxImagesPerHouse: 50,
	MinImagesOnCreate: 5,
	MaxVideosPerBatch: 5,
	MaxVideoFileBytes: 500 * 1024 * 1024,
}

type mockTransformer struct {
	mock.Mock
}

func (m *mockTransformer) Transform(data []byte, originalName string, opts image.Options) (*image.Result, error) {
	args := m.Called(data, originalName, opts)
	if v, ok := args.Get(0).(*image.Result); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTranscoder struct {
	mock.Mock
}

func (m *mockTranscoder) Transcode(ctx context.Context, data []byte, destPath string, originalName string, opts video.Options) (*video.Result, error) {
	args := m.Called(destPath, originalName)
	if v, ok := args.Get(0).(*video.Result); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAssetStore struct {
	mock.Mock
}

func (m *mockAssetStore) Save(data []byte, filename string, houseID int64, kind asset.Kind) (string, string, error) {
	args := m.Called(filename, houseID, kind)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockAssetStore) FolderPath(houseID int64, kind asset.Kind) string {
	args := m.Called(houseID, kind)
	return args.String(0)
}

func (m *mockAssetStore) DeleteFolder(houseID int64, kind asset.Kind) error {
	args := m.Called(houseID, kind)
	return args.Error(0)
}

func (m *mockAssetStore) DeleteImageFile(path string) {
	m.Called(path)
}

func (m *mockAssetStore) URL(houseID int64, kind asset.Kind, filename string) string {
	args := m.Called(houseID, kind, filename)
	return args.String(0)
}

type mockImageCatalog struct {
	mock.Mock
}

func (m *mockImageCatalog) Save(img *media.Image) error {
	args := m.Called(img)
	return args.Error(0)
}

func (m *mockImageCatalog) ListForHouse(houseID int64) ([]*media.Image, error) {
	args := m.Called(houseID)
	//nolint:forcetypeassert
	return args.Get(0).([]*media.Image), args.Error(1)
}

func (m *mockImageCatalog) Get(id uuid.UUID) (*media.Image, error) {
	args := m.Called(id)
	if v, ok := args.Get(0).(*media.Image); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockImageCatalog) CountForHouse(houseID int64) (int, error) {
	args := m.Called(houseID)
	return args.Int(0), args.Error(1)
}

func (m *mockImageCatalog) SetMain(imageID uuid.UUID, houseID int64) error {
	args := m.Called(imageID, houseID)
	return args.Error(0)
}

func (m *mockImageCatalog) Reorder(houseID int64, orders []media.ImageOrder) error {
	args := m.Called(houseID, orders)
	return args.Error(0)
}

func (m *mockImageCatalog) Delete(id uuid.UUID) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *mockImageCatalog) DeleteForHouse(houseID int64) ([]*media.Image, error) {
	args := m.Called(houseID)
	//nolint:forcetypeassert
	return args.Get(0).([]*media.Image), args.Error(1)
}

type mockVideoCatalog struct {
	mock.Mock
}

func (m *mockVideoCatalog) ListForHouse(houseID int64) ([]*media.Video, error) {
	args := m.Called(houseID)
	//nolint:forcetypeassert
	return args.Get(0).([]*media.Video), args.Error(1)
}

func (m *mockVideoCatalog) Delete(houseID int64, filename string) error {
	args := m.Called(houseID, filename)
	return args.Error(0)
}

type serviceMocks struct {
	transformer  *mockTransformer
	transcoder   *mockTranscoder
	assets       *mockAssetStore
	imageCatalog *mockImageCatalog
	videoCatalog *mockVideoCatalog
}

func newTestService() (*media.Service, *serviceMocks) {
	mocks := &serviceMocks{
		transformer:  new(mockTransformer),
		transcoder:   new(mockTranscoder),
		assets:       new(mockAssetStore),
		imageCatalog: new(mockImageCatalog),
		videoCatalog: new(mockVideoCatalog),
	}

	service := media.New(
		ingest.NewValidator(testIngestConfig),
		mocks.transformer,
		mocks.transcoder,
		mocks.assets,
		mocks.imageCatalog,
		mocks.videoCatalog,
		defaultEventBus,
	)

	return service, mocks
}

func imageBatch(names ...string) []ingest.File {
	files := make([]ingest.File, len(names))
	for i, name := range names {
		files[i] = ingest.File{Data: []byte(name), OriginalName: name, MimeType: "image/jpeg", Size: 64}
	}
	return files
}

func transformResultFor(name string) *image.Result {
	return &image.Result{
		Data:     []byte("encoded"),
		Filename: name + "_123.jpeg",
		Width:    1440,
		Height:   1080,
		Size:     7,
		MimeType: "image/jpeg",
	}
}

func uploadOptions() media.ImageUploadOptions {
	return media.ImageUploadOptions{
		Transform: image.Options{MaxWidth: 1920, MaxHeight: 1080, Quality: 85, Format: image.JPEG},
	}
}

func TestUploadImages_PartialFailureDoesNotAbortBatch(t *testing.T) {
	service, mocks := newTestService()
	files := imageBatch("a.jpg", "b.jpg", "c.jpg")

	mocks.imageCatalog.On("CountForHouse", int64(1)).Return(0, nil)
	mocks.transformer.On("Transform", mock.Anything, "a.jpg", mock.Anything).Return(transformResultFor("a"), nil)
	mocks.transformer.On("Transform", mock.Anything, "b.jpg", mock.Anything).Return(nil, errors.New("decode failed"))
	mocks.transformer.On("Transform", mock.Anything, "c.jpg", mock.Anything).Return(transformResultFor("c"), nil)
	mocks.assets.On("Save", mock.Anything, int64(1), asset.KindImage).Return("/data/uploads/houses/1/x.jpeg", "/uploads/houses/1/x.jpeg", nil)
	mocks.imageCatalog.On("Save", mock.Anything).Return(nil)

	result, err := service.UploadImages(context.Background(), 1, files, uploadOptions())
	assert.Nil(t, err)
	assert.Len(t, result.UploadedImages, 2)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "b.jpg", result.Errors[0].Filename)

	mocks.transformer.AssertNumberOfCalls(t, "Transform", 3)
}

func TestUploadImages_ZeroSuccessesFailsTheBatch(t *testing.T) {
	service, mocks := newTestService()

	mocks.imageCatalog.On("CountForHouse", int64(1)).Return(0, nil)
	mocks.transformer.On("Transform", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("decode failed"))

	result, err := service.UploadImages(context.Background(), 1, imageBatch("a.jpg"), uploadOptions())
	assert.ErrorIs(t, err, media.ErrBatchFailed)
	assert.Empty(t, result.UploadedImages)
	assert.Len(t, result.Errors, 1)
}

func TestUploadImages_RejectsBatchBreachingHouseCap(t *testing.T) {
	service, mocks := newTestService()

	// 45 existing plus 10 incoming breaches the cap of 50; nothing may
	// be processed.
	mocks.imageCatalog.On("CountForHouse", int64(1)).Return(45, nil)

	files := imageBatch(
		"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg",
		"6.jpg", "7.jpg", "8.jpg", "9.jpg", "10.jpg",
	)
	_, err := service.UploadImages(context.Background(), 1, files, uploadOptions())
	assert.ErrorIs(t, err, ingest.ErrHouseCapacity)

	mocks.transformer.AssertNotCalled(t, "Transform", mock.Anything, mock.Anything, mock.Anything)
	mocks.assets.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadImages_FirstImageOfHouseBecomesMain(t *testing.T) {
	service, mocks := newTestService()

	mocks.imageCatalog.On("CountForHouse", int64(1)).Return(0, nil)
	mocks.transformer.On("Transform", mock.Anything, mock.Anything, mock.Anything).Return(transformResultFor("a"), nil)
	mocks.assets.On("Save", mock.Anything, int64(1), asset.KindImage).Return("/p", "/u", nil)

	saved := []*media.Image{}
	mocks.imageCatalog.On("Save", mock.Anything).Run(func(args mock.Arguments) {
		//nolint:forcetypeassert
		saved = append(saved, args.Get(0).(*media.Image))
	}).Return(nil)

	_, err := service.UploadImages(context.Background(), 1, imageBatch("a.jpg", "b.jpg"), uploadOptions())
	assert.Nil(t, err)
	assert.Len(t, saved, 2)

	assert.True(t, saved[0].IsMain)
	assert.Equal(t, 0, saved[0].SortOrder)
	assert.False(t, saved[1].IsMain)
	assert.Equal(t, 1, saved[1].SortOrder)
}

func TestUploadImages_AppendedImagesAreNeverMain(t *testing.T) {
	service, mocks := newTestService()

	mocks.imageCatalog.On("CountForHouse", int64(1)).Return(3, nil)
	mocks.transformer.On("Transform", mock.Anything, mock.Anything, mock.Anything).Return(transformResultFor("a"), nil)
	mocks.assets.On("Save", mock.Anything, int64(1), asset.KindImage).Return("/p", "/u", nil)

	saved := []*media.Image{}
	mocks.imageCatalog.On("Save", mock.Anything).Run(func(args mock.Arguments) {
		//nolint:forcetypeassert
		saved = append(saved, args.Get(0).(*media.Image))
	}).Return(nil)

	_, err := service.UploadImages(context.Background(), 1, imageBatch("d.jpg"), uploadOptions())
	assert.Nil(t, err)
	assert.Len(t, saved, 1)
	assert.False(t, saved[0].IsMain)
	assert.Equal(t, 3, saved[0].SortOrder)
}

func videoBatch(names ...string) []ingest.File {
	files := make([]ingest.File, len(names))
	for i, name := range names {
		files[i] = ingest.File{Data: []byte(name), OriginalName: name, MimeType: "video/mp4", Size: 2048}
	}
	return files
}

func TestUploadVideos_AggregatesBatchStatistics(t *testing.T) {
	service, mocks := newTestService()

	mocks.assets.On("FolderPath", int64(2), asset.KindVideo).Return("/data/uploads/videos/2")
	mocks.assets.On("URL", int64(2), asset.KindVideo, mock.Anything).Return("/uploads/videos/2/x.mp4")
	mocks.transcoder.On("Transcode", mock.Anything, "one.mov").Return(&video.Result{
		OriginalSize: 1000, CompressedSize: 400, CompressionRatio: 60,
	}, nil)
	mocks.transcoder.On("Transcode", mock.Anything, "two.mov").Return(&video.Result{
		OriginalSize: 2000, CompressedSize: 1200, CompressionRatio: 40,
	}, nil)

	result, err := service.UploadVideos(context.Background(), 2, videoBatch("one.mov", "two.mov"), video.DefaultOptions())
	assert.Nil(t, err)
	assert.Len(t, result.Videos, 2)
	assert.Equal(t, int64(3000), result.TotalOriginalSize)
	assert.Equal(t, int64(1600), result.TotalCompressedSize)
	assert.Equal(t, 50.0, result.AverageCompressionRatio)

	// Generated names are 'video_{n}_{epochMillis}.mp4', destined for the
	// house's video subtree.
	assert.Regexp(t, `^video_1_\d+\.mp4$`, result.Videos[0].Filename)
	assert.Regexp(t, `^video_2_\d+\.mp4$`, result.Videos[1].Filename)
}

func TestUploadVideos_FailsFastOnFirstTranscodeError(t *testing.T) {
	service, mocks := newTestService()

	mocks.assets.On("FolderPath", int64(2), asset.KindVideo).Return("/data/uploads/videos/2")
	mocks.transcoder.On("Transcode", mock.Anything, "one.mov").Return(nil, fmt.Errorf("encoder exploded"))

	_, err := service.UploadVideos(context.Background(), 2, videoBatch("one.mov", "two.mov"), video.DefaultOptions())
	assert.NotNil(t, err)

	// The second file must never reach the transcoder.
	mocks.transcoder.AssertNumberOfCalls(t, "Transcode", 1)
	mocks.transcoder.AssertNotCalled(t, "Transcode", mock.Anything, "two.mov")
}

func TestUploadVideos_RejectsOversizedBatchBeforeTranscoding(t *testing.T) {
	service, mocks := newTestService()

	files := videoBatch("1.mov", "2.mov", "3.mov", "4.mov", "5.mov", "6.mov")
	_, err := service.UploadVideos(context.Background(), 2, files, video.DefaultOptions())
	assert.ErrorIs(t, err, ingest.ErrTooManyFiles)

	mocks.transcoder.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything)
}

func TestDeleteImage_UnlinksFileThenRemovesRow(t *testing.T) {
	service, mocks := newTestService()
	imageID := uuid.New()

	mocks.imageCatalog.On("Get", imageID).Return(&media.Image{ID: imageID, Path: "/data/uploads/houses/1/a.jpeg"}, nil)
	mocks.assets.On("DeleteImageFile", "/data/uploads/houses/1/a.jpeg").Return()
	mocks.imageCatalog.On("Delete", imageID).Return(nil)

	assert.Nil(t, service.DeleteImage(imageID))

	mocks.assets.AssertCalled(t, "DeleteImageFile", "/data/uploads/houses/1/a.jpeg")
	mocks.imageCatalog.AssertCalled(t, "Delete", imageID)
}

func TestDeleteImage_MissingRowIsReported(t *testing.T) {
	service, mocks := newTestService()
	imageID := uuid.New()

	mocks.imageCatalog.On("Get", imageID).Return(nil, media.ErrImageNotFound)

	assert.ErrorIs(t, service.DeleteImage(imageID), media.ErrImageNotFound)
	mocks.imageCatalog.AssertNotCalled(t, "Delete", mock.Anything)
}

func TestPurgeHouseMedia_RemovesRowsAndBothSubtrees(t *testing.T) {
	service, mocks := newTestService()

	mocks.imageCatalog.On("DeleteForHouse", int64(9)).Return([]*media.Image{}, nil)
	mocks.assets.On("DeleteFolder", int64(9), asset.KindImage).Return(nil)
	mocks.assets.On("DeleteFolder", int64(9), asset.KindVideo).Return(nil)

	assert.Nil(t, service.PurgeHouseMedia(9))

	mocks.assets.AssertCalled(t, "DeleteFolder", int64(9), asset.KindImage)
	mocks.assets.AssertCalled(t, "DeleteFolder", int64(9), asset.KindVideo)
}

func TestPurgeHouseMedia_CatalogFailureStopsFolderDeletion(t *testing.T) {
	service, mocks := newTestService()

	mocks.imageCatalog.On("DeleteForHouse", int64(9)).Return([]*media.Image{}, errors.New("db down"))

	assert.NotNil(t, service.PurgeHouseMedia(9))
	mocks.assets.AssertNotCalled(t, "DeleteFolder", mock.Anything, mock.Anything)
}

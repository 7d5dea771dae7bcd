package media_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/casalist/casalist/internal/database"
	"github.com/casalist/casalist/internal/media"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDatabaseName     = "CASALIST_TEST_DB"
	testDatabaseUser     = "postgres"
	testDatabasePassword = "postgres"
)

// testDatabase guards a single Postgres container shared by every test in
// this file. The container is spawned lazily on first use and the manager
// connection (which also applies the schema migrations) is reused after.
var testDatabase struct {
	sync.Mutex
	manager database.Manager
}

func connectTestDatabase(t *testing.T) database.Manager {
	if testing.Short() {
		t.Skip("skipping database-backed test in short mode")
	}

	testDatabase.Lock()
	defer testDatabase.Unlock()

	if testDatabase.manager != nil {
		return testDatabase.manager
	}

	ctx := context.Background()
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(testDatabaseName),
		postgres.WithUsername(testDatabaseUser),
		postgres.WithPassword(testDatabasePassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to spawn postgres container: %s", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to fetch container host: %s", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to fetch container port: %s", err)
	}

	manager := database.New()
	if err := manager.Connect(database.DatabaseConfig{
		User:     testDatabaseUser,
		Password: testDatabasePassword,
		Name:     testDatabaseName,
		Host:     host,
		Port:     port.Port(),
	}); err != nil {
		t.Fatalf("failed to connect to test database: %s", err)
	}

	testDatabase.manager = manager
	return manager
}

// seedImage inserts a catalog row with the fields the ordering and main
// invariants depend on. Remaining columns carry plausible filler.
func seedImage(t *testing.T, store *media.ImageStore, houseID int64, name string, isMain bool, sortOrder int, createdAt time.Time) *media.Image {
	img := &media.Image{
		ID:           uuid.New(),
		HouseID:      houseID,
		Filename:     name,
		OriginalName: name,
		Path:         "/tmp/" + name,
		URL:          "/uploads/houses/1/" + name,
		Size:         1024,
		MimeType:     "image/jpeg",
		Width:        1920,
		Height:       1080,
		IsMain:       isMain,
		SortOrder:    sortOrder,
		CreatedAt:    createdAt,
	}

	if err := store.Save(img); err != nil {
		t.Fatalf("failed to seed image %s: %s", name, err)
	}

	return img
}

func mainImages(t *testing.T, store *media.ImageStore, houseID int64) []uuid.UUID {
	rows, err := store.ListForHouse(houseID)
	if err != nil {
		t.Fatalf("failed to list images for house %d: %s", houseID, err)
	}

	mains := make([]uuid.UUID, 0)
	for _, row := range rows {
		if row.IsMain {
			mains = append(mains, row.ID)
		}
	}

	return mains
}

func TestImageStoreSetMain_ExactlyOneMainAfterAnySequence(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)
	const houseID int64 = 101

	now := time.Now().UTC()
	imageA := seedImage(t, store, houseID, "a.jpg", true, 0, now)
	imageB := seedImage(t, store, houseID, "b.jpg", false, 1, now.Add(time.Second))
	imageC := seedImage(t, store, houseID, "c.jpg", false, 2, now.Add(2*time.Second))

	for _, next := range []*media.Image{imageB, imageC, imageA, imageC} {
		assert.Nil(t, store.SetMain(next.ID, houseID))

		mains := mainImages(t, store, houseID)
		if assert.Len(t, mains, 1) {
			assert.Equal(t, next.ID, mains[0])
		}
	}
}

func TestImageStoreSetMain_UnknownImageLeavesMainUntouched(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)
	const houseID int64 = 102

	now := time.Now().UTC()
	imageA := seedImage(t, store, houseID, "a.jpg", true, 0, now)
	seedImage(t, store, houseID, "b.jpg", false, 1, now.Add(time.Second))

	err := store.SetMain(uuid.New(), houseID)
	assert.ErrorIs(t, err, media.ErrImageNotFound)

	mains := mainImages(t, store, houseID)
	if assert.Len(t, mains, 1) {
		assert.Equal(t, imageA.ID, mains[0])
	}
}

func TestImageStoreSetMain_ForeignHouseImageIsRejected(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)

	now := time.Now().UTC()
	ours := seedImage(t, store, 103, "ours.jpg", true, 0, now)
	theirs := seedImage(t, store, 104, "theirs.jpg", true, 0, now)

	err := store.SetMain(theirs.ID, 103)
	assert.ErrorIs(t, err, media.ErrImageNotFound)

	mains := mainImages(t, store, 103)
	if assert.Len(t, mains, 1) {
		assert.Equal(t, ours.ID, mains[0])
	}

	// The foreign house must not have lost its own main either.
	assert.Len(t, mainImages(t, store, 104), 1)
}

func TestImageStoreListForHouse_MainFirstThenPositionThenCreation(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)
	const houseID int64 = 105

	now := time.Now().UTC()
	imageA := seedImage(t, store, houseID, "a.jpg", true, 0, now)
	imageB := seedImage(t, store, houseID, "b.jpg", false, 2, now.Add(time.Second))
	imageC := seedImage(t, store, houseID, "c.jpg", false, 1, now.Add(2*time.Second))

	rows, err := store.ListForHouse(houseID)
	assert.Nil(t, err)
	if assert.Len(t, rows, 3) {
		assert.Equal(t, imageA.ID, rows[0].ID)
		assert.Equal(t, imageC.ID, rows[1].ID)
		assert.Equal(t, imageB.ID, rows[2].ID)
	}
}

func TestImageStoreListForHouse_EqualPositionsFallBackToCreationTime(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)
	const houseID int64 = 106

	now := time.Now().UTC()
	older := seedImage(t, store, houseID, "older.jpg", false, 1, now)
	newer := seedImage(t, store, houseID, "newer.jpg", false, 1, now.Add(time.Minute))

	rows, err := store.ListForHouse(houseID)
	assert.Nil(t, err)
	if assert.Len(t, rows, 2) {
		assert.Equal(t, older.ID, rows[0].ID)
		assert.Equal(t, newer.ID, rows[1].ID)
	}
}

func TestImageStoreReorder_RejectsBatchNamingForeignImage(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)

	now := time.Now().UTC()
	ours := seedImage(t, store, 107, "ours.jpg", true, 0, now)
	theirs := seedImage(t, store, 108, "theirs.jpg", true, 0, now)

	err := store.Reorder(107, []media.ImageOrder{
		{ID: ours.ID, SortOrder: 1},
		{ID: theirs.ID, SortOrder: 0},
	})
	assert.ErrorIs(t, err, media.ErrForeignImages)

	// No position may have changed, including for the owned image.
	rows, listErr := store.ListForHouse(107)
	assert.Nil(t, listErr)
	if assert.Len(t, rows, 1) {
		assert.Equal(t, 0, rows[0].SortOrder)
	}
}

func TestImageStoreReorder_AppliedPositionsChangeListing(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)
	const houseID int64 = 109

	now := time.Now().UTC()
	imageA := seedImage(t, store, houseID, "a.jpg", false, 0, now)
	imageB := seedImage(t, store, houseID, "b.jpg", false, 1, now.Add(time.Second))

	assert.Nil(t, store.Reorder(houseID, []media.ImageOrder{
		{ID: imageA.ID, SortOrder: 1},
		{ID: imageB.ID, SortOrder: 0},
	}))

	rows, err := store.ListForHouse(houseID)
	assert.Nil(t, err)
	if assert.Len(t, rows, 2) {
		assert.Equal(t, imageB.ID, rows[0].ID)
		assert.Equal(t, imageA.ID, rows[1].ID)
	}
}

func TestImageStoreDelete_RemovesRowUnconditionally(t *testing.T) {
	db := connectTestDatabase(t)
	store := media.NewImageStore(db)
	const houseID int64 = 110

	img := seedImage(t, store, houseID, "a.jpg", true, 0, time.Now().UTC())

	assert.Nil(t, store.Delete(img.ID))

	count, err := store.CountForHouse(houseID)
	assert.Nil(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, store.Delete(img.ID), media.ErrImageNotFound)
}

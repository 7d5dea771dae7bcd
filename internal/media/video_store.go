package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casalist/casalist/internal/asset"
)

var ErrVideoNotFound = errors.New("video does not exist")

type (
	// Video is a virtual record: no database row backs it. A video
	// exists if and only if its file exists under the house's video
	// subtree, so the filesystem is the sole record. This is in
	// deliberate contrast to the database-owned image catalog.
	Video struct {
		HouseID   int64     `json:"houseId"`
		Filename  string    `json:"filename"`
		URL       string    `json:"url"`
		Size      int64     `json:"size"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// VideoStore re-derives the video set by scanning the house's video
	// directory at read time, filtering on the normalized output
	// extension.
	VideoStore struct {
		assets *asset.Store
	}
)

func NewVideoStore(assets *asset.Store) *VideoStore {
	return &VideoStore{assets: assets}
}

// ListForHouse scans the house's video directory. A missing directory
// simply means the house has no videos.
func (store *VideoStore) ListForHouse(houseID int64) ([]*Video, error) {
	folder := store.assets.FolderPath(houseID, asset.KindVideo)
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Video{}, nil
		}

		return nil, fmt.Errorf("failed to scan video folder '%s': %w", folder, err)
	}

	videos := make([]*Video, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		videos = append(videos, &Video{
			HouseID:   houseID,
			Filename:  entry.Name(),
			URL:       store.assets.URL(houseID, asset.KindVideo, entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	return videos, nil
}

// Delete unlinks the named video file. The filename is rejected if it
// attempts to escape the house's directory.
func (store *VideoStore) Delete(houseID int64, filename string) error {
	if filename != filepath.Base(filename) || filename == "." || filename == "" {
		return ErrVideoNotFound
	}

	path := filepath.Join(store.assets.FolderPath(houseID, asset.KindVideo), filename)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrVideoNotFound
		}

		return fmt.Errorf("failed to delete video '%s': %w", path, err)
	}

	return nil
}

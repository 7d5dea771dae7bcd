// Package asset owns the per-house filesystem layout for processed
// media. Images and videos live in separate subtrees beneath the
// configured root; public URLs follow a stable template independent of
// the physical root so the serving layer can relocate storage freely.
package asset

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/casalist/casalist/pkg/logger"
)

var log = logger.Get("AssetStore")

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

type (
	Config struct {
		RootDir string `yaml:"root_dir" env:"UPLOAD_ROOT_DIR" env-default:"."`
	}

	Store struct {
		config Config
	}
)

func NewStore(config Config) *Store {
	return &Store{config: config}
}

// FolderPath derives the on-disk directory for a house's media of the
// given kind: '{root}/uploads/houses/{id}' for images and
// '{root}/uploads/videos/{id}' for videos. This layout is a
// compatibility contract with the serving layer.
func (store *Store) FolderPath(houseID int64, kind Kind) string {
	return filepath.Join(store.config.RootDir, subtree(kind), strconv.FormatInt(houseID, 10))
}

// URL derives the public URL for a stored file. The template matches the
// filesystem layout but never exposes the physical root.
func (store *Store) URL(houseID int64, kind Kind, filename string) string {
	return "/" + path.Join(subtree(kind), strconv.FormatInt(houseID, 10), filename)
}

// CreateFolder recursively creates the house's media directory for the
// given kind. Calling it for an existing directory is not an error.
func (store *Store) CreateFolder(houseID int64, kind Kind) error {
	folder := store.FolderPath(houseID, kind)
	if err := os.MkdirAll(folder, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create media folder '%s': %w", folder, err)
	}

	return nil
}

// Save writes the processed bytes beneath the house's folder (creating
// it if needed) and returns the physical path plus public URL.
func (store *Store) Save(data []byte, filename string, houseID int64, kind Kind) (string, string, error) {
	if err := store.CreateFolder(houseID, kind); err != nil {
		return "", "", err
	}

	filePath := filepath.Join(store.FolderPath(houseID, kind), filename)
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write asset '%s': %w", filePath, err)
	}

	return filePath, store.URL(houseID, kind, filename), nil
}

// DeleteFolder recursively removes the house's media directory for the
// given kind. A missing folder is not an error.
func (store *Store) DeleteFolder(houseID int64, kind Kind) error {
	folder := store.FolderPath(houseID, kind)
	if err := os.RemoveAll(folder); err != nil {
		return fmt.Errorf("failed to delete media folder '%s': %w", folder, err)
	}

	return nil
}

// DeleteImageFile unlinks a single stored file. This is strictly
// best-effort: orphaned files are tolerable, but a catalog row must
// always remain deletable even when its backing file is already gone, so
// failures are logged and never returned.
func (store *Store) DeleteImageFile(filePath string) {
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.WARNING, "Failed to delete asset file '%s': %v\n", filePath, err)
	}
}

func subtree(kind Kind) string {
	if kind == KindVideo {
		return "uploads/videos"
	}

	return "uploads/houses"
}

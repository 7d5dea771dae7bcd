package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/casalist/casalist/pkg/logger"
)

// stagingSequence disambiguates staged files created within the same
// nanosecond by concurrent requests.
var stagingSequence atomic.Uint64

// stagedFile is a scoped temp file holding the raw upload while the
// encoder reads from it. Release removes the file and is safe to call on
// every exit path, success included.
type stagedFile struct {
	path string
}

// stageBuffer writes the raw upload to a uniquely-named temp file beside
// the eventual destination, creating the destination directory if needed.
func stageBuffer(data []byte, destPath string) (*stagedFile, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create staging directory '%s': %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("staging_%d_%d.tmp", time.Now().UnixNano(), stagingSequence.Add(1)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage upload to '%s': %w", path, err)
	}

	return &stagedFile{path: path}, nil
}

func (staged *stagedFile) Path() string { return staged.path }

// Release deletes the staged file. A failure here never masks the primary
// transcode outcome; it is logged and forgotten.
func (staged *stagedFile) Release() {
	if err := os.Remove(staged.path); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.WARNING, "Failed to remove staged file '%s': %v\n", staged.path, err)
	}
}

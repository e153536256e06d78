//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/intake/internal/errors"
)

// openPhotoNoFollow opens a photo for reading.
// On Windows, O_NOFOLLOW is not available; ValidatePhotoPath still rejects
// symlinks before we get here.
func openPhotoNoFollow(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, err
	}
	return f, nil
}

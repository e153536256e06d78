package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/errors"
)

// photoExtensions are the file types the image pipeline can decode.
var photoExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// MediaTypeFor returns the declared media type for a photo path, or "".
func MediaTypeFor(path string) string {
	return photoExtensions[strings.ToLower(filepath.Ext(path))]
}

// ValidatePhotoPath checks a photo file referenced by a caller before it is opened:
// 1. No directory traversal (.. components)
// 2. An image extension the pipeline can decode
// 3. The file sits directly in an allowed photo directory, unless AllowUnsafePaths
// 4. Neither the file nor its parent directory is a symlink
//
// The "directly in" rule leaves no intermediate directory that could be swapped
// for a symlink between validation and open; O_NOFOLLOW covers the last component.
func ValidatePhotoPath(path string, cfg *config.Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewInvalidRequest("photo path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("photo path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if MediaTypeFor(cleaned) == "" {
		return errors.NewInvalidRequest(fmt.Sprintf("unsupported photo type %q", filepath.Ext(cleaned)))
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid photo path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		allowedDirs, err := getAllowedPhotoDirs(cfg)
		if err != nil {
			return err
		}
		parentDir := filepath.Dir(absPath)
		if !isDirectlyInAllowedDir(parentDir, allowedDirs) {
			return errors.NewInvalidRequest(
				fmt.Sprintf("photo must be directly in an allowed directory (no subdirectories); allowed: %v",
					allowedDirs))
		}
		if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewInvalidRequest("photo directory must not be a symlink")
		}
	}

	info, err := os.Lstat(absPath)
	if os.IsNotExist(err) {
		return errors.NewNotFound(path)
	}
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("cannot read photo: %v", err))
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("photo path must not be a symlink")
	}
	if !info.Mode().IsRegular() {
		return errors.NewInvalidRequest("photo path must be a regular file")
	}
	return nil
}

// getAllowedPhotoDirs returns the allowed photo directories (absolute, cleaned).
// Existing symlinked entries are resolved so they match their real target.
func getAllowedPhotoDirs(cfg *config.Config) ([]string, error) {
	defaultDir, err := DefaultPhotosDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{defaultDir}

	if cfg != nil {
		for _, p := range cfg.PhotoDirs {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid photo dir: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in photo dir: %v", err))
			}
			abs = resolved
		}
		result = append(result, abs)
	}
	return result, nil
}

// isDirectlyInAllowedDir checks if parentDir exactly matches one of the allowed directories.
func isDirectlyInAllowedDir(parentDir string, allowedDirs []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, dir := range allowedDirs {
		if parentDir == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// DefaultPhotosDir returns the default photo directory (~/.intake/photos).
func DefaultPhotosDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewUnexpected(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".intake", "photos"), nil
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Also check for forward slashes on all platforms (e.g., user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}

// SanitizeForFilename sanitizes a string for safe use in a filename.
func SanitizeForFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.ReplaceAll(s, "..", "-")

	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	s = result.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if s == "" {
		s = "unnamed"
	}
	return s
}

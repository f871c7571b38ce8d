package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// Output layout below the output directory
const (
	ImagesDir = "images"
	LabelsDir = "labels"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has one of the scanned image extensions,
// ignoring case
func IsImageFile(filename string) bool {
	return slices.Contains(types.ImageExtensions, strings.ToLower(filepath.Ext(filename)))
}

// ScanImages lists the image files directly inside dir, sorted by path.
// Subdirectories are not descended into.
func ScanImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// OutputPaths returns where the image copy and label file of sample n of
// imagePath are written: outDir/images/{stem}_{n}{ext} and
// outDir/labels/{stem}_{n}.txt. The original extension is kept.
func OutputPaths(outDir, imagePath string, n int) (imagePathOut, labelPathOut string) {
	base := filepath.Base(imagePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	imagePathOut = filepath.Join(outDir, ImagesDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	labelPathOut = filepath.Join(outDir, LabelsDir, fmt.Sprintf("%s_%d.txt", stem, n))
	return imagePathOut, labelPathOut
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && info.IsDir()
}

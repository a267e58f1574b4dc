// Package util - Helpers for loading frames from disk.
package util

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the number embedded in the file name ("frame-0012.jpg" is 12), or -1.
	Frame int
}

var frameNumber = regexp.MustCompile(`(\d+)$`)

// IsImageFile reports whether the extension is one the analyzer can decode.
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
		return true
	}
	return false
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Files are ordered by frame number, then by path; files without a number come last.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", dir)
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() || !IsImageFile(file.Name()) {
			continue
		}

		img, err := LoadImageFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}

	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if (a.Frame < 0) != (b.Frame < 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})

	return images, nil
}

// LoadImageFile reads a single image file.
func LoadImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return ImageFile{Path: path, Data: data, Frame: parseFrame(path)}, nil
}

// LoadImageFiles expands directories and reads every file argument in order.
//
// Arguments:
// - paths: Image files or directories of image files.
//
// Returns:
// - []ImageFile: Files in argument order, directory contents ordered as LoadDirectoryImageFiles.
// - error: Error if any path cannot be read.
func LoadImageFiles(paths ...string) ([]ImageFile, error) {
	var out []ImageFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", p)
		}
		if info.IsDir() {
			dir, err := LoadDirectoryImageFiles(p)
			if err != nil {
				return nil, err
			}
			out = append(out, dir...)
			continue
		}
		img, err := LoadImageFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func parseFrame(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := frameNumber.FindString(base)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

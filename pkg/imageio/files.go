package imageio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bioimagelab/internal/models"
)

// ListImages returns the files of dir whose extension is in exts, ordered
// by the number in their names so that slice_2 precedes slice_10.
func ListImages(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	accept := make(map[string]bool, len(exts))
	for _, e := range exts {
		accept[strings.ToLower(e)] = true
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if accept[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images with extensions %v found in %s", exts, dir)
	}

	sort.Slice(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	for i, f := range files {
		files[i] = filepath.Join(dir, f)
	}
	return files, nil
}

// extractNumber returns the last run of digits in the base name, or -1.
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	end := strings.LastIndexFunc(base, isDigit)
	if end < 0 {
		return -1
	}
	start := end
	for start > 0 && isDigit(rune(base[start-1])) {
		start--
	}
	num, err := strconv.Atoi(base[start : end+1])
	if err != nil {
		return -1
	}
	return num
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// FileSource loads one image file with a fixed calibration.
type FileSource struct {
	Path        string
	Calibration models.Calibration
}

func (s FileSource) Name() string { return filepath.Base(s.Path) }

func (s FileSource) Load(ctx context.Context) (*models.ImageStack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadFile(s.Path, s.Calibration)
}

// SliceSource loads a sequence of files as the Z planes of one stack.
type SliceSource struct {
	ID          string
	Paths       []string
	Calibration models.Calibration
}

func (s SliceSource) Name() string { return s.ID }

func (s SliceSource) Load(ctx context.Context) (*models.ImageStack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadStack(s.Paths, s.Calibration)
}

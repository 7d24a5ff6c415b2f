package corpus

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DimensionSource reports the pixel size of an image by file name.
type DimensionSource interface {
	Dimensions(name string) (width, height int, err error)
}

// ImageDir reads dimensions from image headers without decoding pixels.
type ImageDir struct {
	Dir string
}

func (d ImageDir) Dimensions(name string) (int, int, error) {
	f, err := os.Open(filepath.Join(d.Dir, name))
	if err != nil {
		return 0, 0, fmt.Errorf("opening image %s: %w", name, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image header %s: %w", name, err)
	}
	return cfg.Width, cfg.Height, nil
}

// FixedDimensions reports the same size for every image.
type FixedDimensions struct {
	Width, Height int
}

func (d FixedDimensions) Dimensions(string) (int, int, error) {
	return d.Width, d.Height, nil
}

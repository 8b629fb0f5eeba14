package validate

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// checkPixels reads only the image header and refuses canvases larger than
// limit pixels, so a small file cannot force a huge allocation in Decode.
func checkPixels(path string, limit int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > limit {
		return fmt.Errorf("%w: %dx%d is %d pixels, limit %d", ErrTooManyPixels, cfg.Width, cfg.Height, px, limit)
	}
	return nil
}

// decodeFormat fully decodes the file and returns the format name reported
// by the decoder. Truncated or corrupt pixel data fails here even when the
// header is intact.
func decodeFormat(path string) (Format, image.Rectangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", image.Rectangle{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	img, name, err := image.Decode(f)
	if err != nil {
		return "", image.Rectangle{}, err
	}
	b := img.Bounds()
	if b.Empty() {
		return "", b, fmt.Errorf("empty image bounds %v", b)
	}
	return Format(name), b, nil
}

package validate

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ScrubSuffix is appended to the path of the re-encoded copy before it
// replaces the original.
const ScrubSuffix = ".scrub"

// JPEGQuality is used when re-encoding JPEG files.
const JPEGQuality = 95

var errNoEncoder = errors.New("no encoder available")

// Scrub re-encodes the image at path from its decoded pixels, dropping
// EXIF and every other ancillary chunk. The file is replaced only once the
// re-encoded copy is fully written. Images above DefaultMaxPixels are left
// untouched.
func Scrub(path string, f Format) error {
	return scrub(path, f, DefaultMaxPixels)
}

func scrub(path string, f Format, maxPixels int64) error {
	var encode func(io.Writer) error

	switch f {
	case GIF:
		// keep every frame of animated GIFs
		g, err := decodeGIF(path, maxPixels)
		if err != nil {
			return err
		}
		encode = func(w io.Writer) error { return gif.EncodeAll(w, g) }
	case JPEG, PNG, BMP, TIFF:
		img, err := decodeImage(path, maxPixels)
		if err != nil {
			return err
		}
		encode = func(w io.Writer) error { return encodeStill(w, img, f) }
	default:
		return fmt.Errorf("%s: %w", f, errNoEncoder)
	}

	tmp := path + ScrubSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create scrub file: %w", err)
	}
	if err := encode(out); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", f, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close scrub file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace with scrubbed file: %w", err)
	}
	return nil
}

func encodeStill(w io.Writer, img image.Image, f Format) error {
	switch f {
	case JPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case PNG:
		return png.Encode(w, img)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return errNoEncoder
}

func decodeImage(path string, maxPixels int64) (image.Image, error) {
	if err := checkPixels(path, maxPixels); err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	return img, err
}

func decodeGIF(path string, maxPixels int64) (*gif.GIF, error) {
	if err := checkPixels(path, maxPixels); err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	return gif.DecodeAll(fh)
}

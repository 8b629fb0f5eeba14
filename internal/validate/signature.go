package validate

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"github.com/h2non/filetype"
)

// Format is a recognised raster image format.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	WebP Format = "webp"
)

// HeaderSize is how many leading bytes signature checks read.
const HeaderSize = 512

type signature struct {
	format Format
	ext    string
	mime   string
	match  func(b []byte) bool
}

func prefix(p ...[]byte) func([]byte) bool {
	return func(b []byte) bool {
		for _, x := range p {
			if bytes.HasPrefix(b, x) {
				return true
			}
		}
		return false
	}
}

var signatures = []signature{
	{JPEG, ".jpg", "image/jpeg", prefix([]byte{0xFF, 0xD8, 0xFF})},
	{PNG, ".png", "image/png", prefix([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})},
	{GIF, ".gif", "image/gif", prefix([]byte("GIF87a"), []byte("GIF89a"))},
	{BMP, ".bmp", "image/bmp", prefix([]byte("BM"))},
	{TIFF, ".tiff", "image/tiff", prefix([]byte("II*\x00"), []byte("MM\x00*"))},
	{WebP, ".webp", "image/webp", func(b []byte) bool {
		return len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
	}},
}

// Sniff matches the leading bytes of a file against the signature table.
func Sniff(header []byte) (Format, bool) {
	if s, ok := lookup(header); ok {
		return s.format, true
	}
	return "", false
}

func lookup(header []byte) (signature, bool) {
	for _, s := range signatures {
		if s.match(header) {
			return s, true
		}
	}
	return signature{}, false
}

// Extension returns the file extension used when committing f.
func Extension(f Format) string {
	for _, s := range signatures {
		if s.format == f {
			return s.ext
		}
	}
	return ""
}

// MIME returns the media type of f.
func MIME(f Format) string {
	for _, s := range signatures {
		if s.format == f {
			return s.mime
		}
	}
	return ""
}

// detectMIME asks filetype for its opinion of the header. Empty means no
// image matcher recognised it.
func detectMIME(header []byte) string {
	kind, err := filetype.Image(header)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// DICOM preamble: 128 bytes followed by the "DICM" magic.
const (
	dicomOffset = 128
	dicomMagic  = "DICM"
)

// IsDICOM reports whether header carries the DICOM magic at offset 128.
func IsDICOM(header []byte) bool {
	return len(header) >= dicomOffset+len(dicomMagic) &&
		string(header[dicomOffset:dicomOffset+len(dicomMagic)]) == dicomMagic
}

// DeclaredDisallowed reports whether a response declares the disallowed
// container format through its content type or URL path suffix.
func DeclaredDisallowed(contentType, rawURL string) bool {
	if strings.Contains(strings.ToLower(contentType), "dicom") {
		return true
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".dcm")
}

// ExtensionForContentType maps a declared image content type to an
// extension. Used only for naming before the bytes are inspected.
func ExtensionForContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp", "image/x-ms-bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "image/webp":
		return ".webp"
	}
	return ".jpg"
}

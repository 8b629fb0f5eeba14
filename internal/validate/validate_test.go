package validate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/ligustah/harvest/internal/scan"
)

type fakeScanner struct {
	verdict scan.Verdict
	err     error
	calls   int
}

func (f *fakeScanner) Name() string { return "fake" }

func (f *fakeScanner) Scan(context.Context, string) (scan.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 0x80, G: 0x60, B: 0x90, A: 0xFF})
		}
	}
	return img
}

func encoded(t *testing.T, f Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch f {
	case JPEG:
		err = jpeg.Encode(&buf, testImage(), nil)
	case PNG:
		err = png.Encode(&buf, testImage())
	case GIF:
		err = gif.Encode(&buf, testImage(), nil)
	case BMP:
		err = bmp.Encode(&buf, testImage())
	case TIFF:
		err = tiff.Encode(&buf, testImage(), nil)
	default:
		t.Fatalf("no encoder for %s", f)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", f, err)
	}
	return buf.Bytes()
}

func stage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidate.tmp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// pngHeader is a PNG that stops after an IHDR declaring a w x h RGB canvas.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func dicomBytes(prefix []byte) []byte {
	b := make([]byte, 256)
	copy(b, prefix)
	copy(b[128:], "DICM")
	return b
}

func TestPipelineAcceptsSupportedFormats(t *testing.T) {
	for _, f := range []Format{JPEG, PNG, GIF, BMP, TIFF} {
		t.Run(string(f), func(t *testing.T) {
			sc := &fakeScanner{verdict: scan.Clean}
			p := New(Options{MaxSize: 1 << 20, Scanner: sc, Scrub: true})
			path := stage(t, encoded(t, f))

			res, err := p.Run(context.Background(), path)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Format != f || res.Extension != Extension(f) || res.MIME != MIME(f) {
				t.Errorf("unexpected result %+v", res)
			}
			if res.Width != 16 || res.Height != 12 {
				t.Errorf("unexpected bounds %dx%d", res.Width, res.Height)
			}
			if res.ScanStatus != scan.Clean || sc.calls != 1 {
				t.Errorf("expected one clean scan, got %q after %d calls", res.ScanStatus, sc.calls)
			}
			if !res.Scrubbed || res.ScrubNote != "scrubbed" {
				t.Errorf("expected scrubbed, got %q", res.ScrubNote)
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("accepted file should remain: %v", err)
			}
			if _, err := os.Stat(path + ScrubSuffix); !os.IsNotExist(err) {
				t.Errorf("scrub temp file left behind")
			}
		})
	}
}

func TestPipelineRejections(t *testing.T) {
	pngData := encoded(t, PNG)
	jpg := encoded(t, JPEG)

	polyglot := append([]byte(nil), jpg...)
	copy(polyglot[128:], "DICM")

	tests := []struct {
		name  string
		data  []byte
		limit int64
		stage Stage
		want  error
	}{
		{"empty", nil, 1024, StageSize, ErrEmpty},
		{"too large", bytes.Repeat([]byte{0xFF}, 2048), 1024, StageSize, ErrTooLarge},
		{"text", []byte("<html>not an image</html>"), 1024, StageSignature, ErrUnknownSignature},
		{"executable", []byte("MZ\x90\x00\x03\x00\x00\x00"), 1024, StageSignature, ErrUnknownSignature},
		{"dicom", dicomBytes(nil), 1024, StageDisallowed, ErrDisallowedFormat},
		{"jpeg preamble with dicom magic", polyglot, 1 << 20, StageDisallowed, ErrDisallowedFormat},
		{"truncated png", pngData[:len(pngData)/2], 1 << 20, StageStructure, ErrCorrupt},
		{"bmp magic with garbage", append([]byte("BM"), bytes.Repeat([]byte{0x01}, 64)...), 1024, StageStructure, ErrCorrupt},
		{"oversized canvas", pngHeader(60000, 60000), 1024, StageStructure, ErrTooManyPixels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &fakeScanner{verdict: scan.Clean}
			p := New(Options{MaxSize: tt.limit, Scanner: sc, Scrub: true})
			path := stage(t, tt.data)

			_, err := p.Run(context.Background(), path)
			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("expected *Rejection, got %v", err)
			}
			if rej.Stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, rej.Stage)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("rejected file should be removed")
			}
			if sc.calls != 0 {
				t.Error("scanner should not run before earlier stages pass")
			}
		})
	}
}

func TestPipelineScanner(t *testing.T) {
	tests := []struct {
		name       string
		scanner    *fakeScanner
		wantErr    error
		wantStatus scan.Verdict
	}{
		{"infected", &fakeScanner{verdict: scan.Infected}, ErrInfected, ""},
		{"scanner error", &fakeScanner{err: errors.New("engine crashed")}, ErrScanFailed, ""},
		{"unavailable passes", &fakeScanner{verdict: scan.Unavailable}, nil, scan.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Options{MaxSize: 1 << 20, Scanner: tt.scanner, Scrub: true})
			path := stage(t, encoded(t, PNG))

			res, err := p.Run(context.Background(), path)
			if tt.wantErr != nil {
				var rej *Rejection
				if !errors.As(err, &rej) || rej.Stage != StageScan || !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected scan rejection %v, got %v", tt.wantErr, err)
				}
				if _, err := os.Stat(path); !os.IsNotExist(err) {
					t.Error("rejected file should be removed")
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.ScanStatus != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, res.ScanStatus)
			}
		})
	}
}

func TestNilScannerIsUnavailable(t *testing.T) {
	p := New(DefaultOptions())
	res, err := p.Run(context.Background(), stage(t, encoded(t, GIF)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ScanStatus != scan.Unavailable || res.Scanner != "none" {
		t.Errorf("unexpected scan result %q by %q", res.ScanStatus, res.Scanner)
	}
}

func TestScrubStripsExif(t *testing.T) {
	jpg := encoded(t, JPEG)
	exif := []byte("Exif\x00\x00secret-gps-coordinates")
	seg := []byte{0xFF, 0xE1, byte((len(exif) + 2) >> 8), byte(len(exif) + 2)}
	tagged := append([]byte{0xFF, 0xD8}, seg...)
	tagged = append(tagged, exif...)
	tagged = append(tagged, jpg[2:]...)

	path := stage(t, tagged)
	res, err := New(DefaultOptions()).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Scrubbed {
		t.Fatalf("expected scrub, got %q", res.ScrubNote)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("secret-gps-coordinates")) {
		t.Error("metadata survived scrub")
	}
}

func TestScrubDisabled(t *testing.T) {
	data := encoded(t, PNG)
	path := stage(t, data)

	res, err := New(Options{MaxSize: 1 << 20}).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scrubbed || res.ScrubNote != "not scrubbed: disabled" {
		t.Errorf("unexpected scrub state %v %q", res.Scrubbed, res.ScrubNote)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(after, data) {
		t.Error("file changed with scrub disabled")
	}
}

func TestPipelineMaxPixels(t *testing.T) {
	path := stage(t, encoded(t, PNG))
	_, err := New(Options{MaxSize: 1 << 20, MaxPixels: 100}).Run(context.Background(), path)

	var rej *Rejection
	if !errors.As(err, &rej) || rej.Stage != StageStructure || !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected structure rejection for 16x12 over 100 pixels, got %v", err)
	}

	path = stage(t, encoded(t, PNG))
	if _, err := New(Options{MaxSize: 1 << 20, MaxPixels: 192}).Run(context.Background(), path); err != nil {
		t.Errorf("image exactly at the limit should pass: %v", err)
	}
}

func TestScrubRefusesOversizedCanvas(t *testing.T) {
	data := encoded(t, PNG)
	path := stage(t, data)
	if err := scrub(path, PNG, 100); !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(after, data) {
		t.Error("file changed after refused scrub")
	}
}

func TestScrubWebPUnsupported(t *testing.T) {
	path := stage(t, []byte("RIFF\x00\x00\x00\x00WEBPVP8 "))
	if err := Scrub(path, WebP); !errors.Is(err, errNoEncoder) {
		t.Errorf("expected errNoEncoder, got %v", err)
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		header []byte
		want   Format
		ok     bool
	}{
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, JPEG, true},
		{[]byte("\x89PNG\r\n\x1a\n...."), PNG, true},
		{[]byte("GIF87a"), GIF, true},
		{[]byte("GIF89a"), GIF, true},
		{[]byte("GIF90a"), "", false},
		{[]byte("BM...."), BMP, true},
		{[]byte("II*\x00"), TIFF, true},
		{[]byte("MM\x00*"), TIFF, true},
		{[]byte("RIFF\x10\x00\x00\x00WEBPVP8 "), WebP, true},
		{[]byte("RIFF\x10\x00\x00\x00WAVEfmt "), "", false},
		{[]byte{0xFF, 0xD8}, "", false},
	}
	for _, tt := range tests {
		got, ok := Sniff(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Sniff(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsDICOM(t *testing.T) {
	if !IsDICOM(dicomBytes(nil)) {
		t.Error("expected DICOM detection")
	}
	if IsDICOM(make([]byte, 256)) {
		t.Error("zero bytes are not DICOM")
	}
	if IsDICOM([]byte("DICM")) {
		t.Error("magic must be at offset 128")
	}
}

func TestDeclaredDisallowed(t *testing.T) {
	tests := []struct {
		contentType, url string
		want             bool
	}{
		{"application/dicom", "https://nih.gov/a", true},
		{"Application/DICOM; charset=binary", "https://nih.gov/a", true},
		{"image/jpeg", "https://nih.gov/scan.DCM", true},
		{"image/jpeg", "https://nih.gov/scan.dcm?x=1", true},
		{"image/jpeg", "https://nih.gov/scan.jpg?f=x.dcm", false},
		{"image/png", "https://nih.gov/a.png", false},
	}
	for _, tt := range tests {
		if got := DeclaredDisallowed(tt.contentType, tt.url); got != tt.want {
			t.Errorf("DeclaredDisallowed(%q, %q) = %v, want %v", tt.contentType, tt.url, got, tt.want)
		}
	}
}

func TestExtensionForContentType(t *testing.T) {
	tests := map[string]string{
		"image/png":                 ".png",
		"image/jpeg; charset=utf-8": ".jpg",
		"image/webp":                ".webp",
		"application/octet-stream":  ".jpg",
	}
	for ct, want := range tests {
		if got := ExtensionForContentType(ct); got != want {
			t.Errorf("ExtensionForContentType(%q) = %q, want %q", ct, got, want)
		}
	}
}

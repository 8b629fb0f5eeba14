package validate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ligustah/harvest/internal/scan"
)

// Stage names a validation step.
type Stage string

const (
	StageSize       Stage = "size"
	StageSignature  Stage = "signature"
	StageDisallowed Stage = "disallowed-format"
	StageStructure  Stage = "structure"
	StageScan       Stage = "malware-scan"
)

var (
	ErrEmpty             = errors.New("validate: empty file")
	ErrTooLarge          = errors.New("validate: file exceeds size limit")
	ErrUnknownSignature  = errors.New("validate: unrecognised file signature")
	ErrSignatureMismatch = errors.New("validate: file signature and detected type disagree")
	ErrDisallowedFormat  = errors.New("validate: disallowed container format (DICOM)")
	ErrCorrupt           = errors.New("validate: image failed to decode")
	ErrTooManyPixels     = errors.New("validate: image dimensions exceed pixel limit")
	ErrFormatMismatch    = errors.New("validate: decoded format differs from signature")
	ErrInfected          = errors.New("validate: scanner flagged file")
	ErrScanFailed        = errors.New("validate: scanner failed")
)

// Rejection is returned when a file fails a stage. The file has already
// been removed when a Rejection is returned.
type Rejection struct {
	Stage Stage
	Err   error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected at %s stage: %v", r.Stage, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(stage Stage, err error) *Rejection {
	return &Rejection{Stage: stage, Err: err}
}

// Result describes a file that passed every stage.
type Result struct {
	Format     Format
	Extension  string
	MIME       string
	Width      int
	Height     int
	Scanner    string
	ScanStatus scan.Verdict
	Scrubbed   bool
	ScrubNote  string // "scrubbed" or "not scrubbed: <reason>"
}

// Options configures a Pipeline.
type Options struct {
	MaxSize   int64
	MaxPixels int64        // width*height ceiling checked before decoding
	Scanner   scan.Scanner // nil means scan.Nop
	Scrub     bool
}

// DefaultMaxSize matches the download ceiling.
const DefaultMaxSize int64 = 50 * 1024 * 1024

// DefaultMaxPixels bounds the decoded canvas at roughly 180 megapixels.
const DefaultMaxPixels int64 = 178956970

// DefaultOptions returns options with scrubbing enabled and no scanner.
func DefaultOptions() Options {
	return Options{MaxSize: DefaultMaxSize, MaxPixels: DefaultMaxPixels, Scrub: true}
}

// Pipeline checks a staged file in a fixed order: size, signature,
// disallowed container, structure, malware scan, then scrubs metadata.
// The first failing stage ends the run and deletes the file.
type Pipeline struct {
	opts    Options
	scanner scan.Scanner
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	s := opts.Scanner
	if s == nil {
		s = scan.Nop{}
	}
	return &Pipeline{opts: opts, scanner: s}
}

// Run validates the file at path. On any failure the file is removed; a
// failed stage yields a *Rejection, other failures are I/O errors.
func (p *Pipeline) Run(ctx context.Context, path string) (*Result, error) {
	res, err := p.run(ctx, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, path string) (*Result, error) {
	// 1. size
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("validate: stat: %w", err)
	}
	if fi.Size() == 0 {
		return nil, reject(StageSize, ErrEmpty)
	}
	if fi.Size() > p.opts.MaxSize {
		return nil, reject(StageSize, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, fi.Size(), p.opts.MaxSize))
	}

	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}

	// 2. signature
	sig, ok := lookup(header)
	if !ok {
		if IsDICOM(header) {
			return nil, reject(StageDisallowed, ErrDisallowedFormat)
		}
		return nil, reject(StageSignature, fmt.Errorf("%w: % x", ErrUnknownSignature, head(header, 8)))
	}
	if detected := detectMIME(header); detected != sig.mime {
		return nil, reject(StageSignature, fmt.Errorf("%w: signature says %s, detected %q", ErrSignatureMismatch, sig.mime, detected))
	}

	// 3. disallowed container, checked even when a raster signature matched
	if IsDICOM(header) {
		return nil, reject(StageDisallowed, ErrDisallowedFormat)
	}

	// 4. structure
	if err := checkPixels(path, p.opts.MaxPixels); err != nil {
		if errors.Is(err, ErrTooManyPixels) {
			return nil, reject(StageStructure, err)
		}
		return nil, reject(StageStructure, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	decoded, bounds, err := decodeFormat(path)
	if err != nil {
		return nil, reject(StageStructure, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	if decoded != sig.format {
		return nil, reject(StageStructure, fmt.Errorf("%w: signature %s, decoded %s", ErrFormatMismatch, sig.format, decoded))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 5. malware scan
	verdict, err := p.scanner.Scan(ctx, path)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, ctx.Err()
		}
		return nil, reject(StageScan, fmt.Errorf("%w: %s: %v", ErrScanFailed, p.scanner.Name(), err))
	}
	if verdict == scan.Infected {
		return nil, reject(StageScan, fmt.Errorf("%w: %s", ErrInfected, p.scanner.Name()))
	}

	res := &Result{
		Format:     sig.format,
		Extension:  sig.ext,
		MIME:       sig.mime,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Scanner:    p.scanner.Name(),
		ScanStatus: verdict,
		ScrubNote:  "not scrubbed: disabled",
	}

	// 6. scrub; never rejects
	if p.opts.Scrub {
		if err := scrub(path, sig.format, p.opts.MaxPixels); err != nil {
			res.ScrubNote = "not scrubbed: " + err.Error()
		} else {
			res.Scrubbed = true
			res.ScrubNote = "scrubbed"
		}
	}

	return res, nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("validate: open: %w", err)
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("validate: read header: %w", err)
	}
	return buf[:n], nil
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

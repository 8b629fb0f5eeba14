package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ligustah/harvest/pkg/dataset"
)

func newLayout(t *testing.T) *dataset.Layout {
	t.Helper()
	l, err := dataset.NewLayout(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return l
}

func TestHashKnownValues(t *testing.T) {
	d, err := HashReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if d.SHA256 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("unexpected sha256 %s", d.SHA256)
	}
	if d.MD5 != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("unexpected md5 %s", d.MD5)
	}
	if d.Size != 5 {
		t.Errorf("expected size 5, got %d", d.Size)
	}
}

func TestHashLargerThanChunk(t *testing.T) {
	data := make([]byte, ChunkSize*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "f.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := Hash(path)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	want := sha256.Sum256(data)
	if d.SHA256 != hex.EncodeToString(want[:]) {
		t.Errorf("sha256 mismatch")
	}
	if d.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), d.Size)
	}
}

func TestHashMissingFile(t *testing.T) {
	if _, err := Hash(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestInitWritesHeadersOnce(t *testing.T) {
	l := newLayout(t)
	lg := New(l)
	if err := lg.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	lg.RecordHash(dataset.HashRecord{RelativePath: "healthy/train/a.jpg", SHA256: "aa", MD5: "bb", Size: 3, ScanStatus: "Clean"})
	if err := lg.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	data, err := os.ReadFile(l.HashLedgerPath())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines: %q", len(lines), data)
	}
	if lines[0] != "filename,sha256,md5,file_size,scan_status,timestamp" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "healthy/train/a.jpg,aa,bb,3,Clean,") {
		t.Errorf("unexpected row %q", lines[1])
	}

	meta, err := os.ReadFile(l.MetadataPath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(meta)) != strings.Join(MetadataHeader, ",") {
		t.Errorf("unexpected metadata file %q", meta)
	}
}

func TestRecordAndReadBack(t *testing.T) {
	l := newLayout(t)
	lg := New(l)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lg.now = func() time.Time { return fixed }

	lg.RecordHash(dataset.HashRecord{RelativePath: "silicosis/unseen/x.png", SHA256: "s", MD5: "m", Size: 42, ScanStatus: "Unavailable"})
	lg.RecordMetadata(dataset.MetadataRecord{
		ImageID:      "x",
		RelativePath: "silicosis/unseen/x.png",
		Source:       "OpenI (NIH)",
		Label:        "silicosis",
		Partition:    dataset.PartitionUnseen,
		URL:          "https://openi.nlm.nih.gov/imgs/x.png",
		Title:        "Chest, \"PA\" view",
		Description:  "line one\nline two",
	})

	hashes, err := ReadHashRecords(l.HashLedgerPath())
	if err != nil {
		t.Fatalf("ReadHashRecords: %v", err)
	}
	if len(hashes) != 1 {
		t.Fatalf("expected 1 hash record, got %d", len(hashes))
	}
	if hashes[0].Size != 42 || hashes[0].ScanStatus != "Unavailable" || !hashes[0].Timestamp.Equal(fixed) {
		t.Errorf("unexpected hash record %+v", hashes[0])
	}

	metas, err := ReadMetadataRecords(l.MetadataPath())
	if err != nil {
		t.Fatalf("ReadMetadataRecords: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("expected 1 metadata record, got %d", len(metas))
	}
	m := metas[0]
	if m.Title != "Chest, \"PA\" view" || m.Description != "line one\nline two" {
		t.Errorf("quoting not preserved: %+v", m)
	}
	if m.Partition != dataset.PartitionUnseen || !m.DownloadDate.Equal(fixed) {
		t.Errorf("unexpected metadata record %+v", m)
	}
}

func TestReadMissingLedger(t *testing.T) {
	recs, err := ReadHashRecords(filepath.Join(t.TempDir(), "none.csv"))
	if err != nil || len(recs) != 0 {
		t.Errorf("expected empty result, got %v, %v", recs, err)
	}
}

func TestRecordEventAndTail(t *testing.T) {
	l := newLayout(t)
	lg := New(l)
	lg.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	for i := 0; i < 5; i++ {
		lg.RecordEventf("event %d", i)
	}

	lines, err := TailEvents(l.AuditLogPath(), 2)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	if lines[0] != "[2024-01-02T03:04:05Z] event 3" || lines[1] != "[2024-01-02T03:04:05Z] event 4" {
		t.Errorf("unexpected tail %q", lines)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := newLayout(t)
	lg := New(l)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lg.RecordHash(dataset.HashRecord{RelativePath: "healthy/train/a.jpg", SHA256: "x", Size: 1})
			lg.RecordEvent("hit")
		}()
	}
	wg.Wait()

	recs, err := ReadHashRecords(l.HashLedgerPath())
	if err != nil {
		t.Fatalf("ReadHashRecords: %v", err)
	}
	if len(recs) != 50 {
		t.Errorf("expected 50 records, got %d", len(recs))
	}
	lines, _ := TailEvents(l.AuditLogPath(), 100)
	if len(lines) != 50 {
		t.Errorf("expected 50 audit lines, got %d", len(lines))
	}
}

func TestVerify(t *testing.T) {
	l := newLayout(t)
	lg := New(l)

	commit := func(rel, content string) {
		t.Helper()
		abs := l.Abs(rel)
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		d, err := Hash(abs)
		if err != nil {
			t.Fatal(err)
		}
		lg.RecordHash(dataset.HashRecord{RelativePath: rel, SHA256: d.SHA256, MD5: d.MD5, Size: d.Size, ScanStatus: "Clean"})
	}

	commit("healthy/train/a.jpg", "aaa")
	commit("healthy/unseen/b.jpg", "bbb")

	res, err := Verify(context.Background(), l)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid || res.Records != 2 {
		t.Fatalf("expected valid dataset with 2 records, got %+v", res)
	}

	// Tamper, delete, add an unrecorded file and a staging leftover.
	os.WriteFile(l.Abs("healthy/train/a.jpg"), []byte("evil"), 0o644)
	os.Remove(l.Abs("healthy/unseen/b.jpg"))
	os.WriteFile(l.Abs("silicosis/train/c.png"), []byte("c"), 0o644)
	os.WriteFile(l.StagingPath("d"), []byte("d"), 0o644)

	res, err = Verify(context.Background(), l)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid dataset")
	}
	if res.HashMismatches != 1 || res.Missing != 1 || res.Unrecorded != 1 || res.StagingFiles != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerifyCancelled(t *testing.T) {
	l := newLayout(t)
	New(l).RecordHash(dataset.HashRecord{RelativePath: "healthy/train/a.jpg", SHA256: "x", Size: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Verify(ctx, l); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/harvest/pkg/dataset"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id, label string, p dataset.Partition, sha string) Entry {
	return Entry{
		AcceptedAsset: dataset.AcceptedAsset{
			ImageID:      id,
			RelativePath: label + "/" + string(p) + "/" + id + ".jpg",
			Label:        label,
			Partition:    p,
			Format:       "jpeg",
			SHA256:       sha,
			Size:         100,
			Scrubbed:     true,
			CreatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		Source: "OpenI (NIH)",
		URL:    "https://openi.nlm.nih.gov/imgs/" + id + ".jpg",
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestInsertAndLookup(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	in := entry("a", "healthy", dataset.PartitionTrain, "sha-a")
	if err := s.Insert(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := s.LookupSHA256(ctx, "sha-a")
	if err != nil || !ok {
		t.Fatalf("lookup: %v, found=%v", err, ok)
	}
	if got.ImageID != "a" || got.RelativePath != in.RelativePath || !got.Scrubbed {
		t.Errorf("unexpected entry %+v", got)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, in.CreatedAt)
	}

	if _, ok, err := s.LookupSHA256(ctx, "missing"); err != nil || ok {
		t.Errorf("expected no entry, got found=%v err=%v", ok, err)
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, entry("a", "healthy", dataset.PartitionTrain, "same")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.Insert(ctx, entry("b", "healthy", dataset.PartitionTrain, "same"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same content, got %v", err)
	}
	err = s.Insert(ctx, entry("a", "healthy", dataset.PartitionTrain, "other"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same id, got %v", err)
	}
}

func TestCountsAndRecent(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	for i, e := range []Entry{
		entry("a", "healthy", dataset.PartitionTrain, "1"),
		entry("b", "healthy", dataset.PartitionTrain, "2"),
		entry("c", "healthy", dataset.PartitionUnseen, "3"),
		entry("d", "silicosis", dataset.PartitionTrain, "4"),
	} {
		e.CreatedAt = e.CreatedAt.Add(time.Duration(i) * time.Minute)
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ImageID, err)
		}
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := []Count{
		{"healthy", dataset.PartitionTrain, 2},
		{"healthy", dataset.PartitionUnseen, 1},
		{"silicosis", dataset.PartitionTrain, 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ImageID != "d" || recent[1].ImageID != "c" {
		t.Errorf("unexpected recent entries %+v", recent)
	}
}

func TestSetMirrored(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, entry("a", "healthy", dataset.PartitionTrain, "1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMirrored(ctx, "a", "datasets/healthy/train/a.jpg"); err != nil {
		t.Fatalf("set mirrored: %v", err)
	}
	got, _, _ := s.LookupSHA256(ctx, "1")
	if got.MirroredKey != "datasets/healthy/train/a.jpg" {
		t.Errorf("mirrored_key = %q", got.MirroredKey)
	}
	if err := s.SetMirrored(ctx, "missing", "k"); err == nil {
		t.Error("expected error for unknown image id")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(context.Background(), entry("a", "healthy", dataset.PartitionTrain, "1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, ok, _ := s.LookupSHA256(context.Background(), "1"); !ok {
		t.Error("expected entry to survive reopen")
	}
}

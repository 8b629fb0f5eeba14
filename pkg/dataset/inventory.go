package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ImageExtensions are the file extensions counted as committed images.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// Inventory counts what is on disk under a layout.
type Inventory struct {
	Total        int
	ByLabel      map[string]int
	ByPartition  map[Partition]int
	Files        []string // committed images, relative to root
	StagingFiles []string // leftover staging files, relative to root

	counts map[string]int
}

// Count returns the number of images for a label and partition.
func (inv *Inventory) Count(label string, p Partition) int {
	return inv.counts[label+"/"+string(p)]
}

// Scan walks the label/partition directories and counts image files.
// Unknown directories and non-image files are ignored.
func Scan(l *Layout) (*Inventory, error) {
	inv := &Inventory{
		ByLabel:     make(map[string]int),
		ByPartition: make(map[Partition]int),
		counts:      make(map[string]int),
	}

	for _, label := range l.labels {
		for _, p := range l.partitions {
			dir := filepath.Join(l.root, label, string(p))
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("dataset: scan %s: %w", dir, err)
			}
			for _, e := range entries {
				if e.IsDir() || !IsImageName(e.Name()) {
					continue
				}
				inv.Total++
				inv.Files = append(inv.Files, label+"/"+string(p)+"/"+e.Name())
				inv.ByLabel[label]++
				inv.ByPartition[p]++
				inv.counts[label+"/"+string(p)]++
			}
		}
	}

	err := filepath.WalkDir(l.StagingDir(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), StagingSuffix) {
			rel, _ := filepath.Rel(l.root, p)
			inv.StagingFiles = append(inv.StagingFiles, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dataset: scan staging: %w", err)
	}

	return inv, nil
}

// IsImageName reports whether name carries a committed image extension.
func IsImageName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

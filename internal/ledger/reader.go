package ledger

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ligustah/harvest/pkg/dataset"
)

// ReadHashRecords reads every row of a hash ledger. A missing file yields
// no records.
func ReadHashRecords(path string) ([]dataset.HashRecord, error) {
	rows, err := readRows(path, len(HashHeader))
	if err != nil {
		return nil, err
	}

	out := make([]dataset.HashRecord, 0, len(rows))
	for i, row := range rows {
		size, err := strconv.ParseInt(row[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger: %s row %d: invalid file_size: %w", path, i+2, err)
		}
		ts, _ := time.Parse(TimeFormat, row[5])
		out = append(out, dataset.HashRecord{
			RelativePath: row[0],
			SHA256:       row[1],
			MD5:          row[2],
			Size:         size,
			ScanStatus:   row[4],
			Timestamp:    ts,
		})
	}
	return out, nil
}

// ReadMetadataRecords reads every row of a metadata ledger. A missing file
// yields no records.
func ReadMetadataRecords(path string) ([]dataset.MetadataRecord, error) {
	rows, err := readRows(path, len(MetadataHeader))
	if err != nil {
		return nil, err
	}

	out := make([]dataset.MetadataRecord, 0, len(rows))
	for _, row := range rows {
		ts, _ := time.Parse(TimeFormat, row[5])
		out = append(out, dataset.MetadataRecord{
			ImageID:      row[0],
			RelativePath: row[1],
			Source:       row[2],
			Label:        row[3],
			Partition:    dataset.Partition(row[4]),
			DownloadDate: ts,
			URL:          row[6],
			Title:        row[7],
			Description:  row[8],
		})
	}
	return out, nil
}

// TailEvents returns the last n lines of an audit log.
func TailEvents(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open audit log: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger: read audit log: %w", err)
	}
	return ring, nil
}

func readRows(path string, width int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = width

	var rows [][]string
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
		}
		if first {
			first = false
			continue // header
		}
		rows = append(rows, row)
	}
	return rows, nil
}

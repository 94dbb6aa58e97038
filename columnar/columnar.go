// Package columnar encodes loan records as Parquet files and reads them
// back, optionally pushing a county_code equality predicate down to row
// group and page statistics.
package columnar

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/INLOpen/lender/compressors"
	"github.com/INLOpen/lender/core"
	"github.com/parquet-go/parquet-go"
)

const (
	// DefaultRowGroupSize keeps row groups small enough that a sorted
	// county_code column gives tight min/max bounds per group.
	DefaultRowGroupSize = 16 * 1024
	readBatchSize       = 1024
)

// WriterOptions configures WriteRecords.
type WriterOptions struct {
	Compression  core.CompressionType
	RowGroupSize int64
}

// Stats describes what a read touched.
type Stats struct {
	RowGroups        int
	RowGroupsSkipped int
	RowsScanned      int64
	RowsMatched      int64
}

// WriteRecords writes records to w as a single Parquet file. Records are
// written ordered by county_code (nulls first) so statistics stay selective;
// the input slice is not modified.
func WriteRecords(w io.Writer, records []core.LoanRecord, opts WriterOptions) (int, error) {
	codec, err := compressors.ForType(opts.Compression)
	if err != nil {
		return 0, err
	}
	rowGroupSize := opts.RowGroupSize
	if rowGroupSize <= 0 {
		rowGroupSize = DefaultRowGroupSize
	}

	sorted := make([]core.LoanRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].CountyCode, sorted[j].CountyCode
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return *a < *b
		}
	})

	pw := parquet.NewGenericWriter[core.LoanRecord](w,
		parquet.Compression(codec),
		parquet.MaxRowsPerRowGroup(rowGroupSize),
	)
	n, err := pw.Write(sorted)
	if err != nil {
		pw.Close()
		return n, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return n, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return n, nil
}

// ReadAll decodes every row of the file.
func ReadAll(r io.ReaderAt, size int64) ([]core.LoanRecord, Stats, error) {
	return read(r, size, nil)
}

// ReadCounty decodes the rows whose county_code equals key. Row groups whose
// statistics exclude key are skipped without being decoded.
func ReadCounty(r io.ReaderAt, size int64, key int64) ([]core.LoanRecord, Stats, error) {
	return read(r, size, &key)
}

func read(r io.ReaderAt, size int64, key *int64) ([]core.LoanRecord, Stats, error) {
	var stats Stats
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to open parquet file: %w", err)
	}

	countyColumn := -1
	if key != nil {
		leaf, ok := f.Schema().Lookup(core.ColumnCountyCode)
		if !ok {
			return nil, stats, fmt.Errorf("parquet file has no %s column", core.ColumnCountyCode)
		}
		countyColumn = leaf.ColumnIndex
	}

	var out []core.LoanRecord
	buf := make([]core.LoanRecord, readBatchSize)
	for _, rg := range f.RowGroups() {
		stats.RowGroups++
		if key != nil && !mayContain(rg, countyColumn, *key) {
			stats.RowGroupsSkipped++
			continue
		}

		rows := parquet.NewGenericRowGroupReader[core.LoanRecord](rg)
		for {
			// Optional columns decode into existing pointers; clear so
			// rows already appended to out are not overwritten.
			clear(buf)
			n, err := rows.Read(buf)
			for i := 0; i < n; i++ {
				stats.RowsScanned++
				if key != nil && !buf[i].InCounty(*key) {
					continue
				}
				out = append(out, buf[i])
				stats.RowsMatched++
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				rows.Close()
				return nil, stats, fmt.Errorf("failed to read parquet rows: %w", err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, stats, fmt.Errorf("failed to close row group reader: %w", err)
		}
	}
	return out, stats, nil
}

// mayContain reports whether any page of the county_code chunk in rg can
// hold key. A chunk without a column index is always scanned.
func mayContain(rg parquet.RowGroup, column int, key int64) bool {
	chunks := rg.ColumnChunks()
	if column < 0 || column >= len(chunks) {
		return true
	}
	index, err := chunks[column].ColumnIndex()
	if err != nil || index == nil {
		return true
	}
	for page := 0; page < index.NumPages(); page++ {
		if index.NullPage(page) {
			continue
		}
		lo, hi := index.MinValue(page), index.MaxValue(page)
		if lo.IsNull() || hi.IsNull() {
			return true
		}
		if lo.Int64() <= key && key <= hi.Int64() {
			return true
		}
	}
	return false
}

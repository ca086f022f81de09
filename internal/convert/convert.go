// Package convert turns raw CSV table dumps into all-string parquet
// files. Every column is kept as an optional string: upstream files mix
// numerals, ranges and footnote codes in the same column, so typing is
// deferred to query time. Statistical placeholder symbols become real
// nulls.
package convert

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// rowBatchSize bounds memory regardless of input size.
const rowBatchSize = 1024

// nullSentinels are the standard table symbols that stand in for
// missing, suppressed or unreliable values. The set is exact and
// case-sensitive: "e" is a caution marker but "est" is data.
var nullSentinels = map[string]bool{
	"":    true,
	".":   true,
	"..":  true,
	"...": true,
	"x":   true, "X": true,
	"E": true, "e": true,
	"F": true, "f": true,
	"t": true, "T": true,
	"A": true, "B": true, "C": true, "D": true,
	"p": true, "r": true,
	"0s": true,
}

// IsNullSentinel reports whether a raw cell value is one of the
// placeholder symbols that must be stored as null.
func IsNullSentinel(s string) bool {
	return nullSentinels[s]
}

// SanitizeColumns rewrites column names for parquet compatibility:
// spaces, slashes and hyphens become underscores. Idempotent, so the
// header pre-scan and the conversion itself can never disagree.
func SanitizeColumns(columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		r := strings.NewReplacer(" ", "_", "/", "_", "-", "_")
		out[i] = r.Replace(col)
	}
	return out
}

// dedupeColumns makes sanitized names unique by suffixing repeats with
// a counter. Distinct raw headers can collapse to the same sanitized
// name and parquet schemas reject duplicate fields.
func dedupeColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	out := make([]string, len(columns))
	for i, col := range columns {
		seen[col]++
		if n := seen[col]; n > 1 {
			col = fmt.Sprintf("%s_%d", col, n)
		}
		out[i] = col
	}
	return out
}

// ScanHeader reads only the header row of a CSV file and returns the
// sanitized, deduplicated column names.
func ScanHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	header, err := readHeader(newBOMReader(f))
	if err != nil {
		return nil, err
	}
	return dedupeColumns(SanitizeColumns(header)), nil
}

// Convert streams a CSV file into an all-optional-string parquet file.
// Rows shorter than the header are padded with nulls; rows longer than
// the header are an error naming the offending row.
func Convert(inputCSV, outputParquet string) error {
	in, err := os.Open(inputCSV)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer in.Close()

	// One reader for header and rows: csv.Reader buffers internally,
	// so a separate header pass would swallow the first data rows.
	r := csv.NewReader(newBOMReader(in))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return fmt.Errorf("csv is empty")
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	columns := dedupeColumns(SanitizeColumns(header))

	schema, colIndex := buildSchema(columns)

	out, err := os.Create(outputParquet)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	defer out.Close()

	w := parquet.NewGenericWriter[any](out, schema)

	batch := make([]parquet.Row, 0, rowBatchSize)
	rowNum := 1 // the header was row 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv row %d: %w", rowNum+1, err)
		}
		rowNum++

		if len(record) > len(columns) {
			return fmt.Errorf("csv row %d has %d fields, header has %d", rowNum, len(record), len(columns))
		}

		row := make(parquet.Row, len(columns))
		for i, name := range columns {
			col := colIndex[name]
			if i >= len(record) || IsNullSentinel(record[i]) {
				row[col] = parquet.ValueOf(nil).Level(0, 0, col)
			} else {
				row[col] = parquet.ValueOf(record[i]).Level(0, 1, col)
			}
		}

		batch = append(batch, row)
		if len(batch) == rowBatchSize {
			if _, err := w.WriteRows(batch); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := w.WriteRows(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync parquet: %w", err)
	}
	return nil
}

// buildSchema creates an all-optional-string schema and the mapping
// from column name to leaf column index. parquet groups order fields
// alphabetically, so the index mapping must come from the schema, not
// from CSV position.
func buildSchema(columns []string) (*parquet.Schema, map[string]int) {
	group := parquet.Group{}
	for _, name := range columns {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("table", group)

	colIndex := make(map[string]int, len(columns))
	for i, f := range schema.Fields() {
		colIndex[f.Name()] = i
	}
	return schema, colIndex
}

// readHeader parses the first CSV record from r.
func readHeader(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("csv header has no columns")
	}
	return header, nil
}

// newBOMReader wraps r, discarding a leading UTF-8 byte order mark.
// Upstream dumps carry one inconsistently.
func newBOMReader(r io.Reader) *bufio.Reader {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(3); err == nil && bytes.Equal(lead, []byte{0xEF, 0xBB, 0xBF}) {
		br.Discard(3)
	}
	return br
}

// Package feed reads the top-list input file: a Latin-1 encoded CSV with
// one book per row.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Row is one input-list entry. Rank is 1-based list position; ISBN and Faust
// are optional library identifiers carried through for reference.
type Row struct {
	Title  string
	Author string
	ISBN   string
	Faust  string
	Rank   int
}

// headerAliases maps accepted column names to canonical keys.
var headerAliases = map[string]string{
	"book_title":    "title",
	"title":         "title",
	"book_author":   "author",
	"author":        "author",
	"isbn":          "isbn",
	"isbns":         "isbn",
	"faust_number":  "faust",
	"faust_numbers": "faust",
	"top10k":        "rank",
	"rank":          "rank",
}

// Read parses the input file. Rows keep file order; a row without an
// explicit rank gets its 1-based position. A missing title is not an error
// here; the run loop handles those rows with placeholder records.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]Row, error) {
	// The export tool writes Latin-1, not UTF-8.
	cr := csv.NewReader(transform.NewReader(r, charmap.ISO8859_1.NewDecoder()))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read feed header: %w", err)
	}

	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := headerAliases[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	if _, ok := cols["title"]; !ok {
		return nil, fmt.Errorf("feed header has no title column: %v", header)
	}

	var rows []Row
	for i := 0; ; i++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed row %d: %w", i+1, err)
		}

		row := Row{
			Title:  field(record, cols, "title"),
			Author: field(record, cols, "author"),
			ISBN:   field(record, cols, "isbn"),
			Faust:  field(record, cols, "faust"),
			Rank:   i + 1,
		}
		if raw := field(record, cols, "rank"); raw != "" {
			if rank, err := strconv.Atoi(raw); err == nil && rank > 0 {
				row.Rank = rank
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func field(record []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

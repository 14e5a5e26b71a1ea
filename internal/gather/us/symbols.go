package us

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadUniverseCSV reads an ETF universe from the first column of a CSV file
// with a header row. Symbols are upper-cased and deduplicated in file order;
// blank cells and rows starting with '#' are ignored.
func LoadUniverseCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening universe %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("universe %s is empty", path)
		}
		return nil, fmt.Errorf("reading universe %s: %w", path, err)
	}

	var symbols []string
	seen := make(map[string]struct{})
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading universe %s: %w", path, err)
		}
		sym := strings.ToUpper(strings.TrimSpace(row[0]))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("universe %s lists no symbols", path)
	}
	return symbols, nil
}

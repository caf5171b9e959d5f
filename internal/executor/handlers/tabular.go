package handlers

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/mlplatform/backend/internal/job"
)

// readTable parses CSV content into a header row and one map per data row,
// keyed by header. Short rows leave missing columns empty; extra cells
// beyond the header are ignored.
func readTable(r io.Reader) (headers []string, rows []map[string]string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, job.NewTransientError(fmt.Errorf("failed to parse CSV: %w", err))
	}

	if len(records) == 0 {
		return []string{}, []map[string]string{}, nil
	}

	headers = records[0]
	rows = make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return headers, rows, nil
}

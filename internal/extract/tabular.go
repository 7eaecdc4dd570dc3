package extract

import (
	"fmt"
	"strings"
)

// renderRows turns a table into one segment per data row, "col: val | col: val". The first row is
// the header; blank header cells become colN.
func renderRows(rows [][]string) []string {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]
	out := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		width := len(header)
		if len(row) > width {
			width = len(row)
		}
		fields := make([]string, width)
		for i := 0; i < width; i++ {
			var val string
			if i < len(row) {
				val = strings.TrimSpace(row[i])
			}
			fields[i] = columnName(header, i) + ": " + val
		}
		out = append(out, strings.Join(fields, " | "))
	}
	return out
}

func columnName(header []string, i int) string {
	if i < len(header) {
		if name := strings.TrimSpace(header[i]); name != "" {
			return name
		}
	}
	return fmt.Sprintf("col%d", i+1)
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

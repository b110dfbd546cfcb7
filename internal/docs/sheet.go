package docs

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"sumi/internal/apperr"
)

const maxSheetRows = 1000

// convertXLSX renders every sheet of a workbook as a Markdown table,
// capped per sheet.
func convertXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", apperr.New(apperr.KindDocumentConversion, "not an XLSX workbook")
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + sanitizeSheetName(sheet) + "\n\n")

		truncated := false
		if len(rows) > maxSheetRows {
			rows = rows[:maxSheetRows]
			truncated = true
		}
		b.WriteString(markdownTable(rows))
		if truncated {
			b.WriteString(fmt.Sprintf("\n*Table truncated at %d rows.*\n", maxSheetRows))
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", apperr.New(apperr.KindDocumentConversion, "workbook contains no data")
	}
	return out + "\n", nil
}

// convertCSV renders a CSV file as one Markdown table.
func convertCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil || len(rows) == 0 {
		return "", apperr.New(apperr.KindDocumentConversion, "CSV parse failed")
	}

	truncated := false
	if len(rows) > maxSheetRows {
		rows = rows[:maxSheetRows]
		truncated = true
	}

	out := markdownTable(rows)
	if truncated {
		out += fmt.Sprintf("\n*Table truncated at %d rows.*\n", maxSheetRows)
	}
	return out, nil
}

// markdownTable renders rows as a pipe table; the first row is the
// header. Ragged rows are padded to the widest row.
func markdownTable(rows [][]string) string {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = sanitizeCell(row[i])
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return b.String()
}

var mdLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

// sanitizeCell makes a cell safe inside a pipe table: pipes escaped,
// angle brackets stripped, markdown links reduced to their text.
func sanitizeCell(cell string) string {
	cell = strings.ReplaceAll(cell, "\n", " ")
	cell = mdLinkRe.ReplaceAllString(cell, "$1")
	cell = strings.NewReplacer("<", "", ">", "").Replace(cell)
	cell = strings.ReplaceAll(cell, "|", `\|`)
	return strings.TrimSpace(cell)
}

var sheetNameRe = regexp.MustCompile(`[^\w \-]`)

func sanitizeSheetName(name string) string {
	name = sheetNameRe.ReplaceAllString(name, " ")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "Sheet"
	}
	return name
}

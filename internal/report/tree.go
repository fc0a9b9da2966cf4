// Package report normalizes nested provider report trees into flat
// metric values. Accounting-style reports nest labeled sections to
// arbitrary depth, so values are located by label search rather than
// by fixed path.
package report

import (
	"strconv"
)

// ColData is one cell of a report row. The first cell usually carries
// the label, the second the value.
type ColData struct {
	Value string `json:"value"`
}

// Header labels a section row.
type Header struct {
	ColData []ColData `json:"ColData,omitempty"`
}

// Summary carries a section's rolled-up value.
type Summary struct {
	ColData []ColData `json:"ColData,omitempty"`
}

// Rows wraps a nested row list.
type Rows struct {
	Row []Row `json:"Row,omitempty"`
}

// Row is either a data row (ColData), a section (Header plus nested
// Rows, optionally a Summary), or both.
type Row struct {
	Header  *Header   `json:"Header,omitempty"`
	Rows    *Rows     `json:"Rows,omitempty"`
	Summary *Summary  `json:"Summary,omitempty"`
	ColData []ColData `json:"ColData,omitempty"`
	Group   string    `json:"group,omitempty"`
	Type    string    `json:"type,omitempty"`
}

// Tree is the row forest of a decoded report.
type Tree struct {
	Rows Rows `json:"Rows"`
}

// FindSection returns the first row whose header label matches name,
// searching depth-first through nested rows.
func FindSection(rows []Row, name string) (*Row, bool) {
	for i := range rows {
		row := &rows[i]
		if row.Header != nil && len(row.Header.ColData) > 0 &&
			row.Header.ColData[0].Value == name {
			return row, true
		}
		if row.Rows != nil {
			if found, ok := FindSection(row.Rows.Row, name); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// FindValue returns the numeric value labeled by name at any depth.
// A row matches through its ColData label or its section Summary.
// The boolean distinguishes "label absent" from "value is zero".
func FindValue(rows []Row, name string) (float64, bool) {
	for i := range rows {
		row := &rows[i]
		if len(row.ColData) > 0 && row.ColData[0].Value == name {
			return cellValue(row.ColData)
		}
		if row.Rows != nil {
			if v, ok := FindValue(row.Rows.Row, name); ok {
				return v, true
			}
		}
		if row.Summary != nil && len(row.Summary.ColData) > 0 &&
			row.Summary.ColData[0].Value == name {
			return cellValue(row.Summary.ColData)
		}
	}
	return 0, false
}

// SummaryValue returns the rolled-up value of a section located by
// name. Used where only the section total matters (e.g. bank account
// balances on a balance sheet).
func SummaryValue(rows []Row, name string) (float64, bool) {
	section, ok := FindSection(rows, name)
	if !ok || section.Summary == nil {
		return 0, false
	}
	return cellValue(section.Summary.ColData)
}

func cellValue(cols []ColData) (float64, bool) {
	if len(cols) < 2 || cols[1].Value == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cols[1].Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

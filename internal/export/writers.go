package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apmlive/apmlive-go-rewrite/internal/config"
	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
)

const (
	textFileName = "apm_data.txt"
	jsonFileName = "apm_data.json"
	pdfFileName  = "apm_report.pdf"
)

// Document is the JSON export payload: the statistics plus export metadata.
type Document struct {
	stats.Statistics
	ExportedAt time.Time `json:"exported_at"`
	Host       HostInfo  `json:"host"`
}

// TextPath returns the plain-text artifact path.
func (e *Exporter) TextPath() string { return filepath.Join(e.dir, textFileName) }

// JSONPath returns the JSON artifact path.
func (e *Exporter) JSONPath() string { return filepath.Join(e.dir, jsonFileName) }

// PDFPath returns the PDF artifact path.
func (e *Exporter) PDFPath() string { return filepath.Join(e.dir, pdfFileName) }

func (e *Exporter) writeJSON(s stats.Statistics) error {
	doc := Document{Statistics: s, ExportedAt: time.Now(), Host: e.host}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	return writeAtomic(e.JSONPath(), data)
}

// writeText renders the configured fields as a single overlay-friendly line,
// e.g. "APM: 142.5 | Total: 893 | Time: 00:05:12".
func (e *Exporter) writeText(s stats.Statistics) error {
	return writeAtomic(e.TextPath(), []byte(FormatTextLine(s, e.textFields)))
}

// FormatTextLine builds the text-export line for the given field selection.
// Numbers use the shortest exact decimal form so the artifact parses back to
// the original values.
func FormatTextLine(s stats.Statistics, fields config.TextFields) string {
	var parts []string
	if fields.Timestamp {
		parts = append(parts, fmt.Sprintf("TS: %d", s.Timestamp.Unix()))
	}
	if fields.APM {
		parts = append(parts, "APM: "+formatFloat(s.CurrentAPM))
	}
	if fields.AverageAPM {
		parts = append(parts, "AVG: "+formatFloat(s.AverageAPM))
	}
	if fields.APS {
		parts = append(parts, "APS: "+formatFloat(s.ActionsPerSecond))
	}
	if fields.Total {
		parts = append(parts, fmt.Sprintf("Total: %d", s.TotalActions))
	}
	if fields.SessionTime {
		parts = append(parts, "Time: "+s.FormatSessionTime())
	}
	return strings.Join(parts, " | ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

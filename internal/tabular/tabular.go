// Package tabular loads raw tabular data from CSV files.
//
// Loading is deliberately forgiving: header names are trimmed, empty rows
// are skipped, rows with the wrong field count are recorded as row errors
// and dropped, and the load never aborts over a single bad line. Whatever
// survives comes back as a models.RawTable for the cleaning stage.
package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"
)

// RowError records a single row that could not be loaded.
type RowError struct {
	Line    int
	Message string
	Err     error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row error at line %d: %s: %v", e.Line, e.Message, e.Err)
	}
	return fmt.Sprintf("row error at line %d: %s", e.Line, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// LoadStats summarizes one load operation.
type LoadStats struct {
	TotalLines  int
	RowsLoaded  int
	RowsSkipped int
	RowErrors   []*RowError
}

// HasErrors reports whether any rows were dropped during the load.
func (s *LoadStats) HasErrors() bool {
	return len(s.RowErrors) > 0
}

func (s *LoadStats) String() string {
	return fmt.Sprintf("loaded %d rows from %d lines (%d skipped, %d row errors)",
		s.RowsLoaded, s.TotalLines, s.RowsSkipped, len(s.RowErrors))
}

// Config holds CSV loading settings.
type Config struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	ValidateEncoding bool
}

// DefaultConfig returns the settings that match common vendor exports.
func DefaultConfig() *Config {
	return &Config{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		ValidateEncoding: true,
	}
}

// Loader reads CSV files into raw tables.
type Loader struct {
	config *Config
	logger logger.Logger
}

// NewLoader creates a Loader. A nil config selects DefaultConfig.
func NewLoader(config *Config) *Loader {
	if config == nil {
		config = DefaultConfig()
	}
	return &Loader{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("tabular"),
	}
}

// Load reads the CSV file at path into a RawTable named name.
//
// Row-level problems (wrong field count, malformed quoting) are collected
// in the returned stats rather than failing the load. Only file-level
// problems (missing file, bad encoding, empty file) return an error.
func (l *Loader) Load(name, path string) (*models.RawTable, *LoadStats, error) {
	log := l.logger.WithFields(logger.Fields{"table": name, "file_path": path})
	log.Debug("Loading CSV file")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer file.Close()

	if l.config.ValidateEncoding {
		if err := l.validateEncoding(file, path); err != nil {
			return nil, nil, err
		}
		if _, err := file.Seek(0, 0); err != nil {
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, path, err)
		}
	}

	reader := csv.NewReader(file)
	reader.Comma = l.config.Delimiter
	reader.Comment = l.config.Comment
	reader.TrimLeadingSpace = l.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	stats := &LoadStats{}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.New(errors.CategorySource, errors.CodeMissingSourceData,
				fmt.Sprintf("file %s is empty", path)).
				WithSuggestion("Ensure the export contains a header row and data rows")
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	stats.TotalLines++

	columns := make([]string, len(headers))
	for i, h := range headers {
		columns[i] = strings.TrimSpace(h)
	}

	table := &models.RawTable{Name: name, Columns: columns}
	line := 1
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.TotalLines++
			stats.RowErrors = append(stats.RowErrors, &RowError{Line: line, Message: "malformed CSV row", Err: err})
			continue
		}
		stats.TotalLines++

		if l.config.SkipEmptyRows && isEmptyRecord(record) {
			stats.RowsSkipped++
			continue
		}
		if len(record) != len(columns) {
			stats.RowErrors = append(stats.RowErrors, &RowError{
				Line:    line,
				Message: fmt.Sprintf("row has %d fields, header has %d", len(record), len(columns)),
			})
			continue
		}

		row := make(models.RawRecord, len(columns))
		for i, col := range columns {
			row[col] = strings.TrimSpace(record[i])
		}
		table.Rows = append(table.Rows, row)
		stats.RowsLoaded++
	}

	if stats.HasErrors() {
		log.WithFields(logger.Fields{
			"row_errors": len(stats.RowErrors),
			"sample":     stats.RowErrors[0].Error(),
		}).Warn("Some rows were dropped during load")
	}
	log.WithFields(logger.Fields{
		"rows_loaded":  stats.RowsLoaded,
		"rows_skipped": stats.RowsSkipped,
	}).Debug("CSV file loaded")

	return table, stats, nil
}

// validateEncoding checks the first lines of the file for valid UTF-8.
func (l *Loader) validateEncoding(file *os.File, path string) error {
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.New(errors.CategorySource, errors.CodeFileCorrupted,
				fmt.Sprintf("invalid UTF-8 at line %d of %s", lineNum, path)).
				WithSuggestion("Re-export the file in UTF-8 encoding")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	return nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

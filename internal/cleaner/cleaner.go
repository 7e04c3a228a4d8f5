// Package cleaner normalizes raw tabular datasets into canonically named,
// canonically typed tables.
//
// Cleaning is deliberately tolerant: values that cannot be coerced default
// to zero (numeric) or are dropped (dates) with a logged count, and a
// nominally numeric column whose values mostly fail to parse is demoted to
// text rather than failing the run.
package cleaner

import (
	"strings"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// ColumnKind classifies a cleaned column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumeric
	KindDate
)

// numericPrefixes, numericSuffixes and numericExact are the name patterns
// that mark a column as monetary or quantity data.
var (
	numericPrefixes = []string{"amount", "qty", "quantity", "price", "value", "cost", "fee", "market_value", "net", "gross", "rate", "balance"}
	numericSuffixes = []string{"_amount", "_qty", "_quantity", "_price", "_value", "_cost", "_fee", "_rate", "_balance", "_unit"}
	numericExact    = []string{"shares", "units", "commission", "principal", "interest", "premium", "nav"}
)

// Options configures one cleaning pass.
type Options struct {
	// Name identifies the dataset in logs.
	Name string
	// Renames maps source column names to canonical ones, usually the
	// output of the mapping resolver.
	Renames map[string]string
	// DateColumns are parsed as dates; rows whose value does not parse
	// keep no date for that column, with a counted log.
	DateColumns []string
	// PeriodEndColumn, when set, marks the table as a date-indexed
	// snapshot: the column is normalized to a month-end date and rows
	// sharing the same period keep only the last occurrence.
	PeriodEndColumn string
	// NumericParseThreshold is the minimum fraction of values that must
	// parse for a column to stay numeric. Zero means the default of 0.5.
	NumericParseThreshold float64
}

// Stats reports what a cleaning pass did.
type Stats struct {
	RowCount        int
	RenamedColumns  int
	DroppedColumns  []string
	DemotedColumns  []string
	InvalidDates    int
	DefaultedValues int
	CollapsedRows   int
}

// Table is a cleaned dataset: canonical column names, classified column
// kinds and typed accessors over normalized cell values.
type Table struct {
	Name    string
	Columns []string
	Kinds   map[string]ColumnKind
	Rows    []models.RawRecord

	dates []map[string]time.Time
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Text returns the trimmed text value of a cell.
func (t *Table) Text(row int, column string) string {
	return t.Rows[row].Get(column)
}

// Decimal returns the numeric value of a cell. Numeric columns were
// normalized during cleaning, so a failed parse means a text column and
// yields zero.
func (t *Table) Decimal(row int, column string) decimal.Decimal {
	d, ok := models.ParseAmount(t.Rows[row].Get(column))
	if !ok {
		return decimal.Zero
	}
	return d
}

// Date returns the parsed date of a cell and whether one was valid.
func (t *Table) Date(row int, column string) (time.Time, bool) {
	d, ok := t.dates[row][column]
	return d, ok
}

// Clean normalizes a raw table: trims column labels, applies renames
// without overwriting existing canonical columns, classifies remaining
// columns as numeric or text, coerces numeric values with the tolerant
// parser, and parses date columns. It never fails; degradations are logged
// and counted in the returned stats.
func Clean(raw *models.RawTable, opts Options) (*Table, *Stats) {
	log := logger.GetGlobalLogger().WithComponent("cleaner").WithField("dataset", opts.Name)
	stats := &Stats{}

	if raw == nil || len(raw.Rows) == 0 {
		log.Debug("Empty dataset, nothing to clean")
		return &Table{Name: opts.Name, Kinds: map[string]ColumnKind{}}, stats
	}

	table := &Table{
		Name:  opts.Name,
		Kinds: map[string]ColumnKind{},
	}

	columns, renames := normalizeColumns(raw, opts.Renames, stats, log)
	table.Columns = columns

	// Re-key every row under the trimmed and renamed column names.
	table.Rows = make([]models.RawRecord, len(raw.Rows))
	for i, row := range raw.Rows {
		out := make(models.RawRecord, len(columns))
		for source, value := range row {
			target, kept := renames[strings.TrimSpace(source)]
			if !kept {
				continue
			}
			out[target] = strings.TrimSpace(value)
		}
		table.Rows[i] = out
	}
	stats.RowCount = len(table.Rows)

	dateColumns := map[string]bool{}
	for _, c := range opts.DateColumns {
		dateColumns[c] = true
	}
	if opts.PeriodEndColumn != "" {
		dateColumns[opts.PeriodEndColumn] = true
	}

	threshold := opts.NumericParseThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	// Classify and coerce columns.
	for _, column := range table.Columns {
		if dateColumns[column] {
			table.Kinds[column] = KindDate
			continue
		}
		if !looksNumeric(column) {
			table.Kinds[column] = KindText
			continue
		}
		coerceNumericColumn(table, column, threshold, stats, log)
	}

	parseDateColumns(table, dateColumns, stats, log)

	if opts.PeriodEndColumn != "" {
		normalizePeriods(table, opts.PeriodEndColumn, stats, log)
	}

	log.WithFields(logger.Fields{
		"rows":            stats.RowCount,
		"renamed":         stats.RenamedColumns,
		"dropped_columns": len(stats.DroppedColumns),
		"demoted_columns": len(stats.DemotedColumns),
		"invalid_dates":   stats.InvalidDates,
	}).Debug("Cleaned dataset")

	return table, stats
}

// normalizeColumns trims labels and applies the rename map. A rename whose
// target already exists as a column is refused: the source column is
// dropped instead, avoiding silent duplication of a canonical column.
func normalizeColumns(raw *models.RawTable, renameMap map[string]string, stats *Stats, log logger.Logger) ([]string, map[string]string) {
	trimmed := make([]string, 0, len(raw.Columns))
	present := map[string]bool{}
	for _, c := range raw.Columns {
		c = strings.TrimSpace(c)
		trimmed = append(trimmed, c)
		present[c] = true
	}

	// Canonical names already present keep priority over renamed sources.
	targets := map[string]bool{}
	for _, c := range trimmed {
		if _, renamed := renameMap[c]; !renamed {
			targets[c] = true
		}
	}

	columns := make([]string, 0, len(trimmed))
	keep := make(map[string]string, len(trimmed))
	for _, c := range trimmed {
		target, renamed := renameMap[c]
		if !renamed {
			columns = append(columns, c)
			keep[c] = c
			continue
		}
		if targets[target] {
			stats.DroppedColumns = append(stats.DroppedColumns, c)
			log.WithFields(logger.Fields{
				"source_column": c,
				"target_column": target,
			}).Warn("Rename target already exists, dropping source column")
			continue
		}
		targets[target] = true
		columns = append(columns, target)
		keep[c] = target
		stats.RenamedColumns++
	}
	return columns, keep
}

// looksNumeric reports whether a column name matches the monetary/quantity
// naming patterns.
func looksNumeric(column string) bool {
	name := strings.ToLower(column)
	for _, exact := range numericExact {
		if name == exact {
			return true
		}
	}
	for _, prefix := range numericPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, suffix := range numericSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// coerceNumericColumn rewrites a column's values as canonical decimal
// strings. If fewer than threshold of the non-empty values parse, the
// column is demoted to text instead.
func coerceNumericColumn(table *Table, column string, threshold float64, stats *Stats, log logger.Logger) {
	parsed := make([]decimal.Decimal, len(table.Rows))
	ok := make([]bool, len(table.Rows))
	attempts, successes := 0, 0

	for i, row := range table.Rows {
		value := row.Get(column)
		d, valid := models.ParseAmount(value)
		parsed[i], ok[i] = d, valid
		if value == "" || value == "-" {
			continue
		}
		attempts++
		if valid {
			successes++
		}
	}

	if attempts > 0 && float64(successes)/float64(attempts) < threshold {
		table.Kinds[column] = KindText
		stats.DemotedColumns = append(stats.DemotedColumns, column)
		log.WithError(errors.New(errors.CategoryCleaning, errors.CodeColumnDemoted,
			"numeric-named column is mostly unparseable")).WithFields(logger.Fields{
			"column":    column,
			"parseable": successes,
			"values":    attempts,
		}).Warn("Numeric-named column mostly unparseable, treating as text")
		return
	}

	table.Kinds[column] = KindNumeric
	for i, row := range table.Rows {
		if ok[i] {
			row[column] = parsed[i].String()
			continue
		}
		// Unparseable value in a numeric column defaults to zero.
		value := row.Get(column)
		row[column] = "0"
		stats.DefaultedValues++
		log.WithError(errors.TypeCleaningFailure(column, value)).
			WithField("row", i).
			Debug("Defaulted unparseable numeric value to zero")
	}
}

// parseDateColumns parses every configured date column, counting and
// logging invalid values without failing.
func parseDateColumns(table *Table, dateColumns map[string]bool, stats *Stats, log logger.Logger) {
	table.dates = make([]map[string]time.Time, len(table.Rows))
	for i := range table.Rows {
		table.dates[i] = map[string]time.Time{}
	}
	for column := range dateColumns {
		invalid := 0
		for i, row := range table.Rows {
			value := row.Get(column)
			if value == "" {
				continue
			}
			d, err := models.ParseDate(value)
			if err != nil {
				invalid++
				continue
			}
			table.dates[i][column] = d
		}
		if invalid > 0 {
			stats.InvalidDates += invalid
			log.WithError(errors.New(errors.CategoryCleaning, errors.CodeInvalidDate,
				"unparseable date values dropped")).WithFields(logger.Fields{
				"column":  column,
				"dropped": invalid,
			}).Warn("Dropped invalid dates")
		}
	}
}

// normalizePeriods aligns a snapshot date column on month-end dates and
// collapses duplicate periods by keeping the last occurrence.
func normalizePeriods(table *Table, column string, stats *Stats, log logger.Logger) {
	lastByPeriod := map[string]int{}
	for i := range table.Rows {
		d, ok := table.dates[i][column]
		if !ok {
			continue
		}
		end := models.MonthEnd(d)
		table.dates[i][column] = end
		table.Rows[i][column] = end.Format(models.DateFormat)
		lastByPeriod[end.Format(models.DateFormat)] = i
	}

	kept := make([]models.RawRecord, 0, len(table.Rows))
	keptDates := make([]map[string]time.Time, 0, len(table.Rows))
	for i := range table.Rows {
		period, ok := table.dates[i][column]
		if ok && lastByPeriod[period.Format(models.DateFormat)] != i {
			stats.CollapsedRows++
			continue
		}
		kept = append(kept, table.Rows[i])
		keptDates = append(keptDates, table.dates[i])
	}

	if stats.CollapsedRows > 0 {
		log.WithFields(logger.Fields{
			"column":    column,
			"collapsed": stats.CollapsedRows,
		}).Debug("Collapsed duplicate snapshot periods, keeping last")
	}
	table.Rows = kept
	table.dates = keptDates
	stats.RowCount = len(kept)
}

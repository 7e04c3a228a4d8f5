package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"portfolio-consolidation-service/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad_BasicCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "holdings.csv",
		" Asset Name , qty ,value\nGold ETF,10, 5000 \nFund X,100,12000\n")

	loader := NewLoader(nil)
	table, stats, err := loader.Load("broker", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if table.Name != "broker" {
		t.Errorf("Name = %q, want broker", table.Name)
	}
	wantColumns := []string{"Asset Name", "qty", "value"}
	for i, c := range wantColumns {
		if table.Columns[i] != c {
			t.Errorf("Columns[%d] = %q, want %q", i, table.Columns[i], c)
		}
	}
	if stats.RowsLoaded != 2 {
		t.Fatalf("RowsLoaded = %d, want 2", stats.RowsLoaded)
	}
	if got := table.Rows[0].Get("value"); got != "5000" {
		t.Errorf("value = %q, want trimmed \"5000\"", got)
	}
}

func TestLoad_RowErrorsDoNotAbort(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broker.csv",
		"name,qty\nGold,10\nshort-row\na,b,c\n  ,  \nFund,100\n")

	loader := NewLoader(nil)
	table, stats, err := loader.Load("broker", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if stats.RowsLoaded != 2 {
		t.Errorf("RowsLoaded = %d, want 2", stats.RowsLoaded)
	}
	if len(stats.RowErrors) != 2 {
		t.Errorf("RowErrors = %v, want 2 (short row, triple-field row)", stats.RowErrors)
	}
	if stats.RowsSkipped != 1 {
		t.Errorf("RowsSkipped = %d, want 1 blank row", stats.RowsSkipped)
	}
	if len(table.Rows) != 2 || table.Rows[1].Get("name") != "Fund" {
		t.Errorf("rows after bad lines = %v, want Gold and Fund", table.Rows)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	loader := NewLoader(nil)
	_, _, err := loader.Load("broker", filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.HasCode(err, errors.CodeFileNotFound) {
		t.Errorf("error = %v, want code %s", err, errors.CodeFileNotFound)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.csv", "")

	loader := NewLoader(nil)
	_, _, err := loader.Load("broker", path)
	if !errors.HasCode(err, errors.CodeMissingSourceData) {
		t.Errorf("error = %v, want code %s", err, errors.CodeMissingSourceData)
	}
}

func TestLoad_InvalidEncoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.csv")
	// 0xE9 is a bare Latin-1 e-acute, invalid as UTF-8.
	if err := os.WriteFile(path, []byte("name,qty\ncaf\xe9,10\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(nil)
	_, _, err := loader.Load("broker", path)
	if !errors.HasCode(err, errors.CodeFileCorrupted) {
		t.Errorf("error = %v, want code %s", err, errors.CodeFileCorrupted)
	}
}

func TestLoad_CJKContent(t *testing.T) {
	path := writeFile(t, t.TempDir(), "cn.csv",
		"名称,数量,类型\n黄金基金,10,申购\n")

	loader := NewLoader(nil)
	table, stats, err := loader.Load("cn_broker", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.RowsLoaded != 1 {
		t.Fatalf("RowsLoaded = %d, want 1", stats.RowsLoaded)
	}
	if got := table.Rows[0].Get("类型"); got != "申购" {
		t.Errorf("类型 = %q, want 申购", got)
	}
}

func TestFileSource_EmptyPaths(t *testing.T) {
	src := NewFileSource("manual", "", "", nil)

	holdings, err := src.Holdings()
	if err != nil || holdings != nil {
		t.Errorf("Holdings = %v, %v, want nil, nil", holdings, err)
	}
	txs, err := src.Transactions()
	if err != nil || txs != nil {
		t.Errorf("Transactions = %v, %v, want nil, nil", txs, err)
	}
}

func TestDiscoverSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broker_holdings.csv", "name\nGold\n")
	writeFile(t, dir, "broker_transactions.csv", "name\nGold\n")
	writeFile(t, dir, "bank_holdings.csv", "name\nDeposit\n")
	writeFile(t, dir, "notes.csv", "text\nignored\n")
	writeFile(t, dir, "readme.txt", "not csv")

	sources, err := DiscoverSources(dir, nil)
	if err != nil {
		t.Fatalf("DiscoverSources: %v", err)
	}

	if len(sources) != 2 {
		t.Fatalf("len = %d, want 2", len(sources))
	}
	if sources[0].Name() != "bank" || sources[1].Name() != "broker" {
		t.Errorf("names = %s,%s, want bank,broker (alphabetical)", sources[0].Name(), sources[1].Name())
	}

	holdings, err := sources[1].Holdings()
	if err != nil {
		t.Fatalf("broker Holdings: %v", err)
	}
	if len(holdings.Rows) != 1 {
		t.Errorf("broker holdings rows = %d, want 1", len(holdings.Rows))
	}
	txs, err := sources[0].Transactions()
	if err != nil || txs != nil {
		t.Errorf("bank Transactions = %v, %v, want nil table for missing file", txs, err)
	}
}

func TestDiscoverSources_NoSources(t *testing.T) {
	_, err := DiscoverSources(t.TempDir(), nil)
	if !errors.HasCode(err, errors.CodeMissingSourceData) {
		t.Errorf("error = %v, want code %s", err, errors.CodeMissingSourceData)
	}
}

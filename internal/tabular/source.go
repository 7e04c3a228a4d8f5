package tabular

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"
)

// Source produces raw holdings and transaction tables for one provider.
// Either table may be nil when the provider does not supply that kind of
// data.
type Source interface {
	Name() string
	Holdings() (*models.RawTable, error)
	Transactions() (*models.RawTable, error)
}

// FileSource reads a provider's data from a pair of CSV files following
// the naming convention <name>_holdings.csv and <name>_transactions.csv.
type FileSource struct {
	name             string
	holdingsPath     string
	transactionsPath string
	loader           *Loader
}

// NewFileSource creates a FileSource. Empty paths mean the provider does
// not supply that table.
func NewFileSource(name, holdingsPath, transactionsPath string, loader *Loader) *FileSource {
	if loader == nil {
		loader = NewLoader(nil)
	}
	return &FileSource{
		name:             name,
		holdingsPath:     holdingsPath,
		transactionsPath: transactionsPath,
		loader:           loader,
	}
}

func (s *FileSource) Name() string {
	return s.name
}

func (s *FileSource) Holdings() (*models.RawTable, error) {
	if s.holdingsPath == "" {
		return nil, nil
	}
	table, _, err := s.loader.Load(s.name, s.holdingsPath)
	return table, err
}

func (s *FileSource) Transactions() (*models.RawTable, error) {
	if s.transactionsPath == "" {
		return nil, nil
	}
	table, _, err := s.loader.Load(s.name, s.transactionsPath)
	return table, err
}

// DiscoverSources scans a directory for provider CSV pairs. A file named
// broker_holdings.csv contributes a holdings table to the "broker" source,
// broker_transactions.csv its transactions. Sources are returned in
// alphabetical name order.
func DiscoverSources(dir string, loader *Loader) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, dir, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, dir, err)
	}

	type pair struct {
		holdings     string
		transactions string
	}
	pairs := map[string]*pair{}
	var order []string

	get := func(name string) *pair {
		if p, ok := pairs[name]; ok {
			return p
		}
		p := &pair{}
		pairs[name] = p
		order = append(order, name)
		return p
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".csv")
		full := filepath.Join(dir, entry.Name())
		switch {
		case strings.HasSuffix(base, "_holdings"):
			get(strings.TrimSuffix(base, "_holdings")).holdings = full
		case strings.HasSuffix(base, "_transactions"):
			get(strings.TrimSuffix(base, "_transactions")).transactions = full
		default:
			logger.GetGlobalLogger().WithComponent("tabular").
				WithField("file", entry.Name()).
				Debug("Ignoring CSV file without a recognized suffix")
		}
	}

	if len(order) == 0 {
		return nil, errors.New(errors.CategorySource, errors.CodeMissingSourceData,
			"no provider CSV files found in "+dir).
			WithSuggestion("Name files <provider>_holdings.csv or <provider>_transactions.csv")
	}

	sort.Strings(order)
	sources := make([]Source, 0, len(order))
	for _, name := range order {
		p := pairs[name]
		sources = append(sources, NewFileSource(name, p.holdings, p.transactions, loader))
	}
	return sources, nil
}

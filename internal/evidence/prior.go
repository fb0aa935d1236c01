package evidence

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// PriorTable is an in-memory role x metro lookup over the macro prior rows.
type PriorTable struct {
	byKey map[string]*model.MacroPrior
}

// NewPriorTable indexes prior rows by (role, metro). A duplicate key keeps
// the newer as_of row.
func NewPriorTable(priors []model.MacroPrior) *PriorTable {
	t := &PriorTable{byKey: make(map[string]*model.MacroPrior, len(priors))}
	for i := range priors {
		p := priors[i]
		k := priorKey(p.Role, p.Metro)
		if existing, ok := t.byKey[k]; ok && existing.AsOf.After(p.AsOf) {
			continue
		}
		t.byKey[k] = &p
	}
	return t
}

// Lookup returns the prior for (role, metro), or nil when the table has no
// row for that cell.
func (t *PriorTable) Lookup(role, metro string) *model.MacroPrior {
	return t.byKey[priorKey(role, metro)]
}

// Len returns the number of indexed cells.
func (t *PriorTable) Len() int { return len(t.byKey) }

func priorKey(role, metro string) string { return role + "|" + metro }

// priorColumns is the expected header of a macro priors CSV:
// role,metro,employment,establishments,wage_p25,wage_median,wage_p75,wage_mean,as_of
var priorColumns = []string{"role", "metro", "employment", "establishments", "wage_p25", "wage_median", "wage_p75", "wage_mean", "as_of"}

// LoadPriorsCSV parses a macro priors CSV export. Rows with an unparseable
// numeric field are skipped, not fatal.
func LoadPriorsCSV(path, sourceID string) ([]model.MacroPrior, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "priors: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "priors: read CSV header %s", path)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range priorColumns[:2] {
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("priors: %s missing required column %q", path, col)
		}
	}

	col := func(record []string, name string) string {
		i, ok := colIdx[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var out []model.MacroPrior
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		p := model.MacroPrior{
			Role:     col(record, "role"),
			Metro:    col(record, "metro"),
			SourceID: sourceID,
		}
		if p.Role == "" || p.Metro == "" {
			continue
		}

		p.Employment, _ = strconv.ParseInt(col(record, "employment"), 10, 64)
		p.Establishments, _ = strconv.ParseInt(col(record, "establishments"), 10, 64)
		p.WageP25, _ = strconv.ParseFloat(col(record, "wage_p25"), 64)
		p.WageMedian, _ = strconv.ParseFloat(col(record, "wage_median"), 64)
		p.WageP75, _ = strconv.ParseFloat(col(record, "wage_p75"), 64)
		p.WageMean, _ = strconv.ParseFloat(col(record, "wage_mean"), 64)
		if v := col(record, "as_of"); v != "" {
			if t, perr := time.Parse("2006-01-02", v); perr == nil {
				p.AsOf = t
			}
		}

		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, eris.Errorf("priors: %s contained no usable rows", path)
	}
	return out, nil
}

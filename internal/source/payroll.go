package source

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/fetcher"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// PayrollCSV ingests payroll extract CSVs: one row per employee position
// with employer, work location, title, and annual pay. Tier A evidence.
//
// Expected header (case-insensitive): record_id, employer_name,
// work_location, job_title, annual_salary, pay_period_end. Extra columns are
// carried into raw_data untouched.
type PayrollCSV struct {
	url string
	log *zap.Logger
}

// NewPayrollCSV builds the connector for the given endpoint. Plain paths
// are read from disk, which is how state extracts delivered out of band get
// loaded.
func NewPayrollCSV(url string) *PayrollCSV {
	return &PayrollCSV{url: url, log: zap.L().With(zap.String("source", "payroll_csv"))}
}

func (p *PayrollCSV) SourceID() string { return "payroll_csv" }

func (p *PayrollCSV) Source() model.EvidenceSource {
	return model.EvidenceSource{
		ID:           "payroll_csv",
		Tier:         model.TierA,
		BaseWeight:   1.0,
		EvidenceType: model.EvidencePayroll,
	}
}

func (p *PayrollCSV) Cadence() Cadence { return Monthly }

func (p *PayrollCSV) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return MonthlyDue(now, lastRun)
}

func (p *PayrollCSV) Fetch(ctx context.Context, f fetcher.Fetcher, tempDir string, emit Emit) (*FetchResult, error) {
	body, err := openSource(ctx, f, p.url)
	if err != nil {
		return nil, eris.Wrap(err, "payroll_csv: open feed")
	}
	defer body.Close()

	res := &FetchResult{}
	var idx map[string]int

	err = fetcher.ReadCSV(ctx, body, fetcher.CSVOptions{HasHeader: true},
		func(header []string) { idx = fetcher.HeaderIndex(header) },
		func(row []string) error {
			rec := model.StandardRawRecord{
				SourceID:         "payroll_csv",
				SourceDocumentID: fetcher.Field(row, idx, "record_id"),
				RawCompany:       fetcher.Field(row, idx, "employer_name"),
				RawLocation:      fetcher.Field(row, idx, "work_location"),
				RawTitle:         fetcher.Field(row, idx, "job_title"),
			}

			if sal, ok := parseMoney(fetcher.Field(row, idx, "annual_salary")); ok {
				rec.RawSalaryMin = &sal
				rec.RawSalaryMax = &sal
			}
			if asOf, ok := parseDate(fetcher.Field(row, idx, "pay_period_end")); ok {
				rec.AsOfDate = asOf
			}

			if !rec.Validate() {
				res.Malformed++
				return nil
			}
			res.Emitted++
			return emit(rec)
		})
	if err != nil {
		return res, err
	}

	p.log.Info("payroll extract parsed",
		zap.Int64("emitted", res.Emitted),
		zap.Int64("malformed", res.Malformed))
	return res, nil
}

// openSource fetches an http(s) URL via the fetcher or opens a local path.
func openSource(ctx context.Context, f fetcher.Fetcher, url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return f.Download(ctx, url)
	}
	return os.Open(url)
}

// parseMoney parses a dollar amount, tolerating "$" and thousands commas.
func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseDate accepts the date shapes the feeds actually use.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "01/02/2006", time.RFC3339, "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

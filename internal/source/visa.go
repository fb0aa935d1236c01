package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/fetcher"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// VisaXLSX ingests quarterly visa-filing disclosure workbooks. Each row is a
// certified filing with employer, worksite, job title, and offered wage.
// Tier A evidence with a quarterly cadence.
//
// Expected columns after the header row: CASE_NUMBER, EMPLOYER_NAME,
// WORKSITE_CITY, WORKSITE_STATE, JOB_TITLE, WAGE_RATE, DECISION_DATE.
type VisaXLSX struct {
	url string
	log *zap.Logger
}

func NewVisaXLSX(url string) *VisaXLSX {
	return &VisaXLSX{url: url, log: zap.L().With(zap.String("source", "visa_xlsx"))}
}

func (v *VisaXLSX) SourceID() string { return "visa_xlsx" }

func (v *VisaXLSX) Source() model.EvidenceSource {
	return model.EvidenceSource{
		ID:           "visa_xlsx",
		Tier:         model.TierA,
		BaseWeight:   0.9,
		EvidenceType: model.EvidenceVisa,
	}
}

func (v *VisaXLSX) Cadence() Cadence { return Quarterly }

func (v *VisaXLSX) ShouldRun(now time.Time, lastRun *time.Time) bool {
	// Disclosure files post roughly a month after quarter end.
	return QuarterlyDue(now, lastRun, 30)
}

const (
	visaColCase = iota
	visaColEmployer
	visaColCity
	visaColState
	visaColTitle
	visaColWage
	visaColDecision
)

func (v *VisaXLSX) Fetch(ctx context.Context, f fetcher.Fetcher, tempDir string, emit Emit) (*FetchResult, error) {
	path, err := v.materialize(ctx, f, tempDir)
	if err != nil {
		return nil, err
	}

	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SkipRows: 1})
	if err != nil {
		return nil, eris.Wrap(err, "visa_xlsx: read workbook")
	}

	res := &FetchResult{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "visa_xlsx: cancelled")
		}
		if len(row) <= visaColTitle {
			res.Malformed++
			continue
		}

		rec := model.StandardRawRecord{
			SourceID:         "visa_xlsx",
			SourceDocumentID: cell(row, visaColCase),
			RawCompany:       cell(row, visaColEmployer),
			RawLocation:      joinLocation(cell(row, visaColCity), cell(row, visaColState)),
			RawTitle:         cell(row, visaColTitle),
		}
		if wage, ok := parseMoney(cell(row, visaColWage)); ok {
			rec.RawSalaryMin = &wage
			rec.RawSalaryMax = &wage
		}
		if asOf, ok := parseDate(cell(row, visaColDecision)); ok {
			rec.AsOfDate = asOf
		}

		if !rec.Validate() {
			res.Malformed++
			continue
		}
		res.Emitted++
		if err := emit(rec); err != nil {
			return res, err
		}
	}

	v.log.Info("visa disclosure parsed",
		zap.Int64("emitted", res.Emitted),
		zap.Int64("malformed", res.Malformed))
	return res, nil
}

// materialize gets the workbook onto local disk, unzipping quarterly drops
// that ship as single-file archives.
func (v *VisaXLSX) materialize(ctx context.Context, f fetcher.Fetcher, tempDir string) (string, error) {
	local := v.url
	remote := strings.HasPrefix(v.url, "http://") || strings.HasPrefix(v.url, "https://")

	if remote {
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return "", eris.Wrap(err, "visa_xlsx: create temp dir")
		}
		local = filepath.Join(tempDir, fmt.Sprintf("visa_%d%s", time.Now().UnixNano(), filepath.Ext(v.url)))
		if _, err := f.DownloadToFile(ctx, v.url, local); err != nil {
			return "", eris.Wrap(err, "visa_xlsx: download")
		}
	}

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		extracted, err := fetcher.ExtractZIPSingle(local, tempDir)
		if err != nil {
			return "", eris.Wrap(err, "visa_xlsx: extract archive")
		}
		return extracted, nil
	}
	return local, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func joinLocation(city, state string) string {
	switch {
	case city == "":
		return state
	case state == "":
		return city
	default:
		return city + ", " + state
	}
}

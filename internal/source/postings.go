package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/fetcher"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// postingDoc is the shape of one element in a postings snapshot.
type postingDoc struct {
	ID          string         `json:"id"`
	Company     string         `json:"company"`
	Location    string         `json:"location"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	SalaryMin   *float64       `json:"salary_min"`
	SalaryMax   *float64       `json:"salary_max"`
	PostedAt    string         `json:"posted_at"`
	Extra       map[string]any `json:"extra"`
}

// PostingsJSON ingests job-posting snapshots: a JSON array of postings with
// company, location, title, and an optional salary band. Tier B evidence;
// postings signal openings, not headcount, so they carry less weight than
// payroll rows.
type PostingsJSON struct {
	url string
	log *zap.Logger
}

func NewPostingsJSON(url string) *PostingsJSON {
	return &PostingsJSON{url: url, log: zap.L().With(zap.String("source", "postings_json"))}
}

func (p *PostingsJSON) SourceID() string { return "postings_json" }

func (p *PostingsJSON) Source() model.EvidenceSource {
	return model.EvidenceSource{
		ID:           "postings_json",
		Tier:         model.TierB,
		BaseWeight:   0.75,
		EvidenceType: model.EvidencePosting,
	}
}

func (p *PostingsJSON) Cadence() Cadence { return Weekly }

func (p *PostingsJSON) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return WeeklyDue(now, lastRun)
}

func (p *PostingsJSON) Fetch(ctx context.Context, f fetcher.Fetcher, tempDir string, emit Emit) (*FetchResult, error) {
	body, err := openSource(ctx, f, p.url)
	if err != nil {
		return nil, eris.Wrap(err, "postings_json: open feed")
	}
	defer body.Close()

	res := &FetchResult{}
	err = fetcher.DecodeJSONArray(ctx, body, func(doc postingDoc) error {
		rec := model.StandardRawRecord{
			SourceID:         "postings_json",
			SourceDocumentID: doc.ID,
			RawCompany:       doc.Company,
			RawLocation:      doc.Location,
			RawTitle:         doc.Title,
			RawDescription:   doc.Description,
			RawSalaryMin:     doc.SalaryMin,
			RawSalaryMax:     doc.SalaryMax,
			RawData:          doc.Extra,
		}
		if asOf, ok := parseDate(doc.PostedAt); ok {
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

	p.log.Info("postings snapshot parsed",
		zap.Int64("emitted", res.Emitted),
		zap.Int64("malformed", res.Malformed))
	return res, nil
}

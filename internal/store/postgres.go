package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/jobsignal/archetype-cli/internal/db"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS arch;

CREATE TABLE IF NOT EXISTS arch.raw_observations (
	id                 BIGSERIAL PRIMARY KEY,
	source_id          TEXT NOT NULL,
	source_document_id TEXT NOT NULL,
	raw_company        TEXT NOT NULL DEFAULT '',
	raw_location       TEXT NOT NULL DEFAULT '',
	raw_title          TEXT NOT NULL,
	salary_min         DOUBLE PRECISION,
	salary_max         DOUBLE PRECISION,
	as_of              TIMESTAMPTZ,
	raw_data           JSONB,
	ingested_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_id, source_document_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_obs_source ON arch.raw_observations(source_id);
CREATE INDEX IF NOT EXISTS idx_raw_obs_as_of ON arch.raw_observations(as_of);
CREATE INDEX IF NOT EXISTS idx_raw_obs_ingested ON arch.raw_observations(ingested_at);

CREATE TABLE IF NOT EXISTS arch.archetypes (
	id                   TEXT PRIMARY KEY,
	company              TEXT NOT NULL,
	metro                TEXT NOT NULL,
	role                 TEXT NOT NULL,
	seniority            TEXT NOT NULL,
	record_type          TEXT NOT NULL,
	headcount_p10        DOUBLE PRECISION NOT NULL DEFAULT 0,
	headcount_p50        DOUBLE PRECISION NOT NULL DEFAULT 0,
	headcount_p90        DOUBLE PRECISION NOT NULL DEFAULT 0,
	salary_p25           DOUBLE PRECISION NOT NULL DEFAULT 0,
	salary_p50           DOUBLE PRECISION NOT NULL DEFAULT 0,
	salary_p75           DOUBLE PRECISION NOT NULL DEFAULT 0,
	salary_mean          DOUBLE PRECISION NOT NULL DEFAULT 0,
	salary_stddev        DOUBLE PRECISION NOT NULL DEFAULT 0,
	composite_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	components           JSONB NOT NULL,
	evidence             JSONB NOT NULL,
	needs_review         BOOLEAN NOT NULL DEFAULT false,
	run_id               TEXT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	UNIQUE (company, metro, role, seniority)
);

CREATE INDEX IF NOT EXISTS idx_archetypes_company_metro ON arch.archetypes(company, metro);
CREATE INDEX IF NOT EXISTS idx_archetypes_role ON arch.archetypes(role);
CREATE INDEX IF NOT EXISTS idx_archetypes_needs_review ON arch.archetypes(needs_review);

CREATE TABLE IF NOT EXISTS arch.evidence_links (
	id                BIGSERIAL PRIMARY KEY,
	archetype_id      TEXT NOT NULL,
	evidence_type     TEXT NOT NULL,
	evidence_id       TEXT NOT NULL,
	weight            DOUBLE PRECISION NOT NULL,
	contributed_to    JSONB NOT NULL,
	run_id            TEXT NOT NULL,
	superseded_by_run TEXT,
	UNIQUE (archetype_id, evidence_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_links_archetype ON arch.evidence_links(archetype_id);
CREATE INDEX IF NOT EXISTS idx_links_active ON arch.evidence_links(archetype_id) WHERE superseded_by_run IS NULL;

CREATE TABLE IF NOT EXISTS arch.review_items (
	id                BIGSERIAL PRIMARY KEY,
	item_type         TEXT NOT NULL,
	archetype_id      TEXT NOT NULL DEFAULT '',
	current_value     TEXT NOT NULL,
	suggested_value   TEXT NOT NULL DEFAULT '',
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	issue_description TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	run_id            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (archetype_id, item_type, issue_description, run_id)
);

CREATE INDEX IF NOT EXISTS idx_review_status ON arch.review_items(status);

CREATE TABLE IF NOT EXISTS arch.unmatched_titles (
	normalized_title TEXT PRIMARY KEY,
	sample_raw_title TEXT NOT NULL,
	count            BIGINT NOT NULL DEFAULT 0,
	first_seen_run   TEXT NOT NULL,
	last_seen_run    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS arch.macro_priors (
	role           TEXT NOT NULL,
	metro          TEXT NOT NULL,
	employment     BIGINT NOT NULL DEFAULT 0,
	establishments BIGINT NOT NULL DEFAULT 0,
	wage_p25       DOUBLE PRECISION NOT NULL DEFAULT 0,
	wage_median    DOUBLE PRECISION NOT NULL DEFAULT 0,
	wage_p75       DOUBLE PRECISION NOT NULL DEFAULT 0,
	wage_mean      DOUBLE PRECISION NOT NULL DEFAULT 0,
	as_of          TIMESTAMPTZ,
	source_id      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (role, metro)
);

CREATE TABLE IF NOT EXISTS arch.evidence_sources (
	id            TEXT PRIMARY KEY,
	tier          TEXT NOT NULL,
	base_weight   DOUBLE PRECISION NOT NULL,
	evidence_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS arch.run_log (
	run_id           TEXT PRIMARY KEY,
	mode             TEXT NOT NULL,
	rule_set_version TEXT NOT NULL,
	status           TEXT NOT NULL,
	summary          JSONB,
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_run_log_status ON arch.run_log(status, completed_at DESC);

CREATE TABLE IF NOT EXISTS arch.run_checkpoints (
	run_id     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	source_id  TEXT NOT NULL DEFAULT '',
	batch_offset BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, stage, source_id)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var rawObservationColumns = []string{
	"source_id", "source_document_id", "raw_company", "raw_location",
	"raw_title", "salary_min", "salary_max", "as_of", "raw_data", "ingested_at",
}

func (s *PostgresStore) UpsertRawObservations(ctx context.Context, obs []model.RawObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		var rawData []byte
		if o.RawData != nil {
			b, err := json.Marshal(o.RawData)
			if err != nil {
				return 0, eris.Wrap(err, "postgres: marshal raw_data")
			}
			rawData = b
		}
		rows = append(rows, []any{
			o.SourceID, o.SourceDocumentID, o.RawCompany, o.RawLocation,
			o.RawTitle, o.SalaryMin, o.SalaryMax, nullTime(o.AsOf), rawData, o.IngestedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "arch.raw_observations",
		Columns:      rawObservationColumns,
		ConflictKeys: []string{"source_id", "source_document_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert raw observations")
}

func (s *PostgresStore) ListRawObservations(ctx context.Context, f ObservationFilter) ([]model.RawObservation, error) {
	query := `SELECT id, source_id, source_document_id, raw_company, raw_location,
	       raw_title, salary_min, salary_max, as_of, raw_data, ingested_at
	  FROM arch.raw_observations WHERE true`
	args := []any{}
	argIdx := 1

	if len(f.SourceIDs) > 0 {
		query += fmt.Sprintf(` AND source_id = ANY($%d)`, argIdx)
		args = append(args, f.SourceIDs)
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(` AND as_of >= $%d`, argIdx)
		args = append(args, f.Since)
		argIdx++
	}
	if !f.Until.IsZero() {
		query += fmt.Sprintf(` AND as_of <= $%d`, argIdx)
		args = append(args, f.Until)
		argIdx++
	}
	if !f.IngestedAfter.IsZero() {
		query += fmt.Sprintf(` AND ingested_at > $%d`, argIdx)
		args = append(args, f.IngestedAfter)
		argIdx++
	}
	query += ` ORDER BY source_id, source_document_id`

	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw observations")
	}
	defer rows.Close()

	var out []model.RawObservation
	for rows.Next() {
		var o model.RawObservation
		var asOf *time.Time
		var rawData []byte
		if err := rows.Scan(&o.ID, &o.SourceID, &o.SourceDocumentID, &o.RawCompany,
			&o.RawLocation, &o.RawTitle, &o.SalaryMin, &o.SalaryMax, &asOf,
			&rawData, &o.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw observation")
		}
		if asOf != nil {
			o.AsOf = *asOf
		}
		if len(rawData) > 0 {
			if err := json.Unmarshal(rawData, &o.RawData); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal raw_data")
			}
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list raw observations iterate")
}

const upsertArchetypeSQL = `
INSERT INTO arch.archetypes
	(id, company, metro, role, seniority, record_type,
	 headcount_p10, headcount_p50, headcount_p90,
	 salary_p25, salary_p50, salary_p75, salary_mean, salary_stddev,
	 composite_confidence, components, evidence, needs_review, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (id) DO UPDATE SET
	record_type = EXCLUDED.record_type,
	headcount_p10 = EXCLUDED.headcount_p10,
	headcount_p50 = EXCLUDED.headcount_p50,
	headcount_p90 = EXCLUDED.headcount_p90,
	salary_p25 = EXCLUDED.salary_p25,
	salary_p50 = EXCLUDED.salary_p50,
	salary_p75 = EXCLUDED.salary_p75,
	salary_mean = EXCLUDED.salary_mean,
	salary_stddev = EXCLUDED.salary_stddev,
	composite_confidence = EXCLUDED.composite_confidence,
	components = EXCLUDED.components,
	evidence = EXCLUDED.evidence,
	needs_review = EXCLUDED.needs_review,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) UpsertArchetypes(ctx context.Context, archetypes []*model.Archetype) (int64, error) {
	var n int64
	for _, a := range archetypes {
		componentsJSON, err := json.Marshal(a.Components)
		if err != nil {
			return n, eris.Wrap(err, "postgres: marshal components")
		}
		evidenceJSON, err := json.Marshal(a.Evidence)
		if err != nil {
			return n, eris.Wrap(err, "postgres: marshal evidence")
		}

		_, err = s.pool.Exec(ctx, upsertArchetypeSQL,
			a.ID, a.Key.Company, a.Key.Metro, a.Key.Role, string(a.Key.Seniority),
			string(a.RecordType),
			a.HeadcountP10, a.HeadcountP50, a.HeadcountP90,
			a.SalaryP25, a.SalaryP50, a.SalaryP75, a.SalaryMean, a.SalaryStdDev,
			a.CompositeConfidence, componentsJSON, evidenceJSON, a.NeedsReview,
			a.RunID, a.UpdatedAt,
		)
		if err != nil {
			return n, eris.Wrapf(err, "postgres: upsert archetype %s", a.ID)
		}
		n++
	}
	return n, nil
}

const selectArchetypeCols = `id, company, metro, role, seniority, record_type,
	headcount_p10, headcount_p50, headcount_p90,
	salary_p25, salary_p50, salary_p75, salary_mean, salary_stddev,
	composite_confidence, components, evidence, needs_review, run_id, updated_at`

func (s *PostgresStore) GetArchetype(ctx context.Context, id string) (*model.Archetype, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectArchetypeCols+` FROM arch.archetypes WHERE id = $1`, id)

	a, err := scanArchetype(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get archetype %s", id)
	}
	return a, nil
}

func (s *PostgresStore) QueryArchetypes(ctx context.Context, f ArchetypeFilter) ([]model.Archetype, error) {
	query := `SELECT ` + selectArchetypeCols + ` FROM arch.archetypes WHERE true`
	args := []any{}
	argIdx := 1

	add := func(clause string, val any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, val)
		argIdx++
	}

	if f.Company != "" {
		add(` AND company = $%d`, f.Company)
	}
	if f.Metro != "" {
		add(` AND metro = $%d`, f.Metro)
	}
	if f.Role != "" {
		add(` AND role = $%d`, f.Role)
	}
	if f.Seniority != "" {
		add(` AND seniority = $%d`, string(f.Seniority))
	}
	if f.RecordType != "" {
		add(` AND record_type = $%d`, string(f.RecordType))
	}
	if f.MinConfidence > 0 {
		add(` AND composite_confidence >= $%d`, f.MinConfidence)
	}
	if f.NeedsReview != nil {
		add(` AND needs_review = $%d`, *f.NeedsReview)
	}

	query += ` ORDER BY composite_confidence DESC, id`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	add(` LIMIT $%d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query archetypes")
	}
	defer rows.Close()

	var out []model.Archetype
	for rows.Next() {
		a, err := scanArchetype(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan archetype")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query archetypes iterate")
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchetype(row rowScanner) (*model.Archetype, error) {
	var a model.Archetype
	var componentsJSON, evidenceJSON []byte

	err := row.Scan(&a.ID, &a.Key.Company, &a.Key.Metro, &a.Key.Role, &a.Key.Seniority,
		&a.RecordType,
		&a.HeadcountP10, &a.HeadcountP50, &a.HeadcountP90,
		&a.SalaryP25, &a.SalaryP50, &a.SalaryP75, &a.SalaryMean, &a.SalaryStdDev,
		&a.CompositeConfidence, &componentsJSON, &evidenceJSON, &a.NeedsReview,
		&a.RunID, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(componentsJSON, &a.Components); err != nil {
		return nil, eris.Wrap(err, "unmarshal components")
	}
	if err := json.Unmarshal(evidenceJSON, &a.Evidence); err != nil {
		return nil, eris.Wrap(err, "unmarshal evidence")
	}
	return &a, nil
}

func (s *PostgresStore) SupersedeEvidenceLinks(ctx context.Context, archetypeID, runID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE arch.evidence_links SET superseded_by_run = $1
		  WHERE archetype_id = $2 AND superseded_by_run IS NULL AND run_id <> $1`,
		runID, archetypeID,
	)
	return eris.Wrapf(err, "postgres: supersede links for %s", archetypeID)
}

func (s *PostgresStore) InsertEvidenceLinks(ctx context.Context, links []model.EvidenceLink) (int64, error) {
	var n int64
	for _, l := range links {
		contributedJSON, err := json.Marshal(l.ContributedTo)
		if err != nil {
			return n, eris.Wrap(err, "postgres: marshal contributed_to")
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO arch.evidence_links
			   (archetype_id, evidence_type, evidence_id, weight, contributed_to, run_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (archetype_id, evidence_id, run_id) DO NOTHING`,
			l.ArchetypeID, string(l.EvidenceType), l.EvidenceID, l.Weight,
			contributedJSON, l.RunID,
		)
		if err != nil {
			return n, eris.Wrapf(err, "postgres: insert link %s", l.EvidenceID)
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func (s *PostgresStore) ListEvidenceLinks(ctx context.Context, archetypeID string, includeSuperseded bool) ([]model.EvidenceLink, error) {
	query := `SELECT id, archetype_id, evidence_type, evidence_id, weight,
	       contributed_to, run_id, COALESCE(superseded_by_run, '')
	  FROM arch.evidence_links WHERE archetype_id = $1`
	if !includeSuperseded {
		query += ` AND superseded_by_run IS NULL`
	}
	query += ` ORDER BY evidence_id`

	rows, err := s.pool.Query(ctx, query, archetypeID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence links")
	}
	defer rows.Close()

	var out []model.EvidenceLink
	for rows.Next() {
		var l model.EvidenceLink
		var contributedJSON []byte
		if err := rows.Scan(&l.ID, &l.ArchetypeID, &l.EvidenceType, &l.EvidenceID,
			&l.Weight, &contributedJSON, &l.RunID, &l.SupersededByRun); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence link")
		}
		if err := json.Unmarshal(contributedJSON, &l.ContributedTo); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contributed_to")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence links iterate")
}

func (s *PostgresStore) InsertReviewItems(ctx context.Context, items []model.ReviewItem) (int64, error) {
	var n int64
	for _, item := range items {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO arch.review_items
			   (item_type, archetype_id, current_value, suggested_value, confidence,
			    issue_description, status, run_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (archetype_id, item_type, issue_description, run_id) DO NOTHING`,
			string(item.ItemType), item.ArchetypeID, item.CurrentValue,
			item.SuggestedValue, item.Confidence, item.IssueDescription,
			string(item.Status), item.RunID, item.CreatedAt,
		)
		if err != nil {
			return n, eris.Wrap(err, "postgres: insert review item")
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func (s *PostgresStore) ListReviewItems(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, item_type, archetype_id, current_value, suggested_value,
	       confidence, issue_description, status, run_id, created_at
	  FROM arch.review_items`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, string(status), limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review items")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var item model.ReviewItem
		if err := rows.Scan(&item.ID, &item.ItemType, &item.ArchetypeID,
			&item.CurrentValue, &item.SuggestedValue, &item.Confidence,
			&item.IssueDescription, &item.Status, &item.RunID, &item.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list review items iterate")
}

func (s *PostgresStore) ResolveReviewItem(ctx context.Context, id int64, status model.ReviewStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE arch.review_items SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review item %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review item not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) UpsertUnmatchedTitles(ctx context.Context, titles []model.UnmatchedTitle) (int64, error) {
	var n int64
	for _, t := range titles {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO arch.unmatched_titles
			   (normalized_title, sample_raw_title, count, first_seen_run, last_seen_run)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (normalized_title) DO UPDATE SET
			   count = arch.unmatched_titles.count + EXCLUDED.count,
			   last_seen_run = EXCLUDED.last_seen_run`,
			t.NormalizedTitle, t.SampleRawTitle, t.Count, t.FirstSeenRun, t.LastSeenRun,
		)
		if err != nil {
			return n, eris.Wrapf(err, "postgres: upsert unmatched title %q", t.NormalizedTitle)
		}
		n++
	}
	return n, nil
}

func (s *PostgresStore) ListUnmatchedTitles(ctx context.Context, limit int) ([]model.UnmatchedTitle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT normalized_title, sample_raw_title, count, first_seen_run, last_seen_run
		   FROM arch.unmatched_titles ORDER BY count DESC, normalized_title LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unmatched titles")
	}
	defer rows.Close()

	var out []model.UnmatchedTitle
	for rows.Next() {
		var t model.UnmatchedTitle
		if err := rows.Scan(&t.NormalizedTitle, &t.SampleRawTitle, &t.Count,
			&t.FirstSeenRun, &t.LastSeenRun); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unmatched title")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unmatched titles iterate")
}

var macroPriorColumns = []string{
	"role", "metro", "employment", "establishments",
	"wage_p25", "wage_median", "wage_p75", "wage_mean", "as_of", "source_id",
}

func (s *PostgresStore) UpsertMacroPriors(ctx context.Context, priors []model.MacroPrior) (int64, error) {
	if len(priors) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(priors))
	for _, p := range priors {
		rows = append(rows, []any{
			p.Role, p.Metro, p.Employment, p.Establishments,
			p.WageP25, p.WageMedian, p.WageP75, p.WageMean, nullTime(p.AsOf), p.SourceID,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "arch.macro_priors",
		Columns:      macroPriorColumns,
		ConflictKeys: []string{"role", "metro"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert macro priors")
}

func (s *PostgresStore) ListMacroPriors(ctx context.Context) ([]model.MacroPrior, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, metro, employment, establishments, wage_p25, wage_median,
		        wage_p75, wage_mean, as_of, source_id
		   FROM arch.macro_priors ORDER BY role, metro`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list macro priors")
	}
	defer rows.Close()

	var out []model.MacroPrior
	for rows.Next() {
		var p model.MacroPrior
		var asOf *time.Time
		if err := rows.Scan(&p.Role, &p.Metro, &p.Employment, &p.Establishments,
			&p.WageP25, &p.WageMedian, &p.WageP75, &p.WageMean, &asOf, &p.SourceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan macro prior")
		}
		if asOf != nil {
			p.AsOf = *asOf
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list macro priors iterate")
}

func (s *PostgresStore) UpsertEvidenceSources(ctx context.Context, sources []model.EvidenceSource) (int64, error) {
	var n int64
	for _, src := range sources {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO arch.evidence_sources (id, tier, base_weight, evidence_type)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET
			   tier = EXCLUDED.tier,
			   base_weight = EXCLUDED.base_weight,
			   evidence_type = EXCLUDED.evidence_type`,
			src.ID, string(src.Tier), src.BaseWeight, string(src.EvidenceType),
		)
		if err != nil {
			return n, eris.Wrapf(err, "postgres: upsert evidence source %s", src.ID)
		}
		n++
	}
	return n, nil
}

func (s *PostgresStore) ListEvidenceSources(ctx context.Context) ([]model.EvidenceSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tier, base_weight, evidence_type FROM arch.evidence_sources ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence sources")
	}
	defer rows.Close()

	var out []model.EvidenceSource
	for rows.Next() {
		var src model.EvidenceSource
		if err := rows.Scan(&src.ID, &src.Tier, &src.BaseWeight, &src.EvidenceType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence sources iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, summary *model.RunSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO arch.run_log (run_id, mode, rule_set_version, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status`,
		summary.RunID, string(summary.Mode), summary.RuleSetVersion,
		string(model.RunRunning), summary.StartedAt,
	)
	return eris.Wrapf(err, "postgres: start run %s", summary.RunID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE arch.run_log SET status = $1, summary = $2, completed_at = $3 WHERE run_id = $4`,
		string(summary.Status), summaryJSON, summary.CompletedAt, summary.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", summary.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", summary.RunID)
	}
	return nil
}

func (s *PostgresStore) LastSuccessfulRun(ctx context.Context) (*time.Time, error) {
	var completed time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT completed_at FROM arch.run_log
		  WHERE status = $1 AND completed_at IS NOT NULL
		  ORDER BY completed_at DESC LIMIT 1`,
		string(model.RunSuccess),
	).Scan(&completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: last successful run")
	}
	return &completed, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, mode, rule_set_version, status, started_at, completed_at, summary
		   FROM arch.run_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			run          model.RunSummary
			mode, status string
			runID        string
			startedAt    time.Time
			completedAt  *time.Time
			summaryJSON  []byte
		)
		if err := rows.Scan(&runID, &mode, &run.RuleSetVersion, &status, &startedAt, &completedAt, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(summaryJSON) > 0 {
			if err := json.Unmarshal(summaryJSON, &run); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal run %s summary", runID)
			}
		}
		// The columns are authoritative; the summary blob is absent while a
		// run is still in flight.
		run.RunID = runID
		run.Mode = model.RunMode(mode)
		run.Status = model.RunStatus(status)
		run.StartedAt = startedAt
		run.CompletedAt = completedAt
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO arch.run_checkpoints (run_id, stage, source_id, batch_offset, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, stage, source_id) DO UPDATE SET
		   batch_offset = EXCLUDED.batch_offset,
		   updated_at = EXCLUDED.updated_at`,
		cp.RunID, cp.Stage, cp.SourceID, cp.Offset, cp.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) LoadCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, stage, source_id, batch_offset, updated_at
		   FROM arch.run_checkpoints WHERE run_id = $1 ORDER BY stage, source_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load checkpoints")
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.Stage, &cp.SourceID, &cp.Offset, &cp.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load checkpoints iterate")
}

func (s *PostgresStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM arch.run_checkpoints WHERE run_id = $1`, runID)
	return eris.Wrap(err, "postgres: delete checkpoints")
}

// nullTime converts a zero time to NULL for nullable timestamp columns.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite database, used for local
// runs and tests. Same semantics as PostgresStore, smaller operational
// footprint.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	// Single writer; WAL keeps readers unblocked during pipeline writes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", p)
		}
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_observations (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id          TEXT NOT NULL,
	source_document_id TEXT NOT NULL,
	raw_company        TEXT NOT NULL DEFAULT '',
	raw_location       TEXT NOT NULL DEFAULT '',
	raw_title          TEXT NOT NULL,
	salary_min         REAL,
	salary_max         REAL,
	as_of              TIMESTAMP,
	raw_data           TEXT,
	ingested_at        TIMESTAMP NOT NULL,
	UNIQUE (source_id, source_document_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_obs_source ON raw_observations(source_id);
CREATE INDEX IF NOT EXISTS idx_raw_obs_as_of ON raw_observations(as_of);
CREATE INDEX IF NOT EXISTS idx_raw_obs_ingested ON raw_observations(ingested_at);

CREATE TABLE IF NOT EXISTS archetypes (
	id                   TEXT PRIMARY KEY,
	company              TEXT NOT NULL,
	metro                TEXT NOT NULL,
	role                 TEXT NOT NULL,
	seniority            TEXT NOT NULL,
	record_type          TEXT NOT NULL,
	headcount_p10        REAL NOT NULL DEFAULT 0,
	headcount_p50        REAL NOT NULL DEFAULT 0,
	headcount_p90        REAL NOT NULL DEFAULT 0,
	salary_p25           REAL NOT NULL DEFAULT 0,
	salary_p50           REAL NOT NULL DEFAULT 0,
	salary_p75           REAL NOT NULL DEFAULT 0,
	salary_mean          REAL NOT NULL DEFAULT 0,
	salary_stddev        REAL NOT NULL DEFAULT 0,
	composite_confidence REAL NOT NULL DEFAULT 0,
	components           TEXT NOT NULL,
	evidence             TEXT NOT NULL,
	needs_review         INTEGER NOT NULL DEFAULT 0,
	run_id               TEXT NOT NULL,
	updated_at           TIMESTAMP NOT NULL,
	UNIQUE (company, metro, role, seniority)
);

CREATE INDEX IF NOT EXISTS idx_archetypes_company_metro ON archetypes(company, metro);
CREATE INDEX IF NOT EXISTS idx_archetypes_role ON archetypes(role);

CREATE TABLE IF NOT EXISTS evidence_links (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	archetype_id      TEXT NOT NULL,
	evidence_type     TEXT NOT NULL,
	evidence_id       TEXT NOT NULL,
	weight            REAL NOT NULL,
	contributed_to    TEXT NOT NULL,
	run_id            TEXT NOT NULL,
	superseded_by_run TEXT,
	UNIQUE (archetype_id, evidence_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_links_archetype ON evidence_links(archetype_id);

CREATE TABLE IF NOT EXISTS review_items (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	item_type         TEXT NOT NULL,
	archetype_id      TEXT NOT NULL DEFAULT '',
	current_value     TEXT NOT NULL,
	suggested_value   TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	issue_description TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	run_id            TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	UNIQUE (archetype_id, item_type, issue_description, run_id)
);

CREATE INDEX IF NOT EXISTS idx_review_status ON review_items(status);

CREATE TABLE IF NOT EXISTS unmatched_titles (
	normalized_title TEXT PRIMARY KEY,
	sample_raw_title TEXT NOT NULL,
	count            INTEGER NOT NULL DEFAULT 0,
	first_seen_run   TEXT NOT NULL,
	last_seen_run    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS macro_priors (
	role           TEXT NOT NULL,
	metro          TEXT NOT NULL,
	employment     INTEGER NOT NULL DEFAULT 0,
	establishments INTEGER NOT NULL DEFAULT 0,
	wage_p25       REAL NOT NULL DEFAULT 0,
	wage_median    REAL NOT NULL DEFAULT 0,
	wage_p75       REAL NOT NULL DEFAULT 0,
	wage_mean      REAL NOT NULL DEFAULT 0,
	as_of          TIMESTAMP,
	source_id      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (role, metro)
);

CREATE TABLE IF NOT EXISTS evidence_sources (
	id            TEXT PRIMARY KEY,
	tier          TEXT NOT NULL,
	base_weight   REAL NOT NULL,
	evidence_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_log (
	run_id           TEXT PRIMARY KEY,
	mode             TEXT NOT NULL,
	rule_set_version TEXT NOT NULL,
	status           TEXT NOT NULL,
	summary          TEXT,
	started_at       TIMESTAMP NOT NULL,
	completed_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id       TEXT NOT NULL,
	stage        TEXT NOT NULL,
	source_id    TEXT NOT NULL DEFAULT '',
	batch_offset INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, stage, source_id)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteMigration, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "sqlite: migrate: %.60s", stmt)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRawObservations(ctx context.Context, obs []model.RawObservation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_observations
		   (source_id, source_document_id, raw_company, raw_location, raw_title,
		    salary_min, salary_max, as_of, raw_data, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_id, source_document_id) DO UPDATE SET
		   raw_company = excluded.raw_company,
		   raw_location = excluded.raw_location,
		   raw_title = excluded.raw_title,
		   salary_min = excluded.salary_min,
		   salary_max = excluded.salary_max,
		   as_of = excluded.as_of,
		   raw_data = excluded.raw_data,
		   ingested_at = excluded.ingested_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare raw observation upsert")
	}
	defer stmt.Close()

	var n int64
	for _, o := range obs {
		var rawData any
		if o.RawData != nil {
			b, err := json.Marshal(o.RawData)
			if err != nil {
				return n, eris.Wrap(err, "sqlite: marshal raw_data")
			}
			rawData = string(b)
		}
		if _, err := stmt.ExecContext(ctx,
			o.SourceID, o.SourceDocumentID, o.RawCompany, o.RawLocation, o.RawTitle,
			o.SalaryMin, o.SalaryMax, nullTime(o.AsOf), rawData, o.IngestedAt,
		); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert raw observation %s:%s", o.SourceID, o.SourceDocumentID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "sqlite: commit raw observations")
	}
	return n, nil
}

func (s *SQLiteStore) ListRawObservations(ctx context.Context, f ObservationFilter) ([]model.RawObservation, error) {
	query := `SELECT id, source_id, source_document_id, raw_company, raw_location,
	       raw_title, salary_min, salary_max, as_of, raw_data, ingested_at
	  FROM raw_observations WHERE 1=1`
	var args []any

	if len(f.SourceIDs) > 0 {
		query += ` AND source_id IN (?` + strings.Repeat(", ?", len(f.SourceIDs)-1) + `)`
		for _, id := range f.SourceIDs {
			args = append(args, id)
		}
	}
	if !f.Since.IsZero() {
		query += ` AND as_of >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND as_of <= ?`
		args = append(args, f.Until)
	}
	if !f.IngestedAfter.IsZero() {
		query += ` AND ingested_at > ?`
		args = append(args, f.IngestedAfter)
	}
	query += ` ORDER BY source_id, source_document_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw observations")
	}
	defer rows.Close()

	var out []model.RawObservation
	for rows.Next() {
		var o model.RawObservation
		var asOf sql.NullTime
		var rawData sql.NullString
		if err := rows.Scan(&o.ID, &o.SourceID, &o.SourceDocumentID, &o.RawCompany,
			&o.RawLocation, &o.RawTitle, &o.SalaryMin, &o.SalaryMax, &asOf,
			&rawData, &o.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw observation")
		}
		if asOf.Valid {
			o.AsOf = asOf.Time
		}
		if rawData.Valid && rawData.String != "" {
			if err := json.Unmarshal([]byte(rawData.String), &o.RawData); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal raw_data")
			}
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list raw observations iterate")
}

func (s *SQLiteStore) UpsertArchetypes(ctx context.Context, archetypes []*model.Archetype) (int64, error) {
	var n int64
	for _, a := range archetypes {
		componentsJSON, err := json.Marshal(a.Components)
		if err != nil {
			return n, eris.Wrap(err, "sqlite: marshal components")
		}
		evidenceJSON, err := json.Marshal(a.Evidence)
		if err != nil {
			return n, eris.Wrap(err, "sqlite: marshal evidence")
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO archetypes
			   (id, company, metro, role, seniority, record_type,
			    headcount_p10, headcount_p50, headcount_p90,
			    salary_p25, salary_p50, salary_p75, salary_mean, salary_stddev,
			    composite_confidence, components, evidence, needs_review, run_id, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   record_type = excluded.record_type,
			   headcount_p10 = excluded.headcount_p10,
			   headcount_p50 = excluded.headcount_p50,
			   headcount_p90 = excluded.headcount_p90,
			   salary_p25 = excluded.salary_p25,
			   salary_p50 = excluded.salary_p50,
			   salary_p75 = excluded.salary_p75,
			   salary_mean = excluded.salary_mean,
			   salary_stddev = excluded.salary_stddev,
			   composite_confidence = excluded.composite_confidence,
			   components = excluded.components,
			   evidence = excluded.evidence,
			   needs_review = excluded.needs_review,
			   run_id = excluded.run_id,
			   updated_at = excluded.updated_at`,
			a.ID, a.Key.Company, a.Key.Metro, a.Key.Role, string(a.Key.Seniority),
			string(a.RecordType),
			a.HeadcountP10, a.HeadcountP50, a.HeadcountP90,
			a.SalaryP25, a.SalaryP50, a.SalaryP75, a.SalaryMean, a.SalaryStdDev,
			a.CompositeConfidence, string(componentsJSON), string(evidenceJSON),
			a.NeedsReview, a.RunID, a.UpdatedAt,
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert archetype %s", a.ID)
		}
		n++
	}
	return n, nil
}

const sqliteArchetypeCols = `id, company, metro, role, seniority, record_type,
	headcount_p10, headcount_p50, headcount_p90,
	salary_p25, salary_p50, salary_p75, salary_mean, salary_stddev,
	composite_confidence, components, evidence, needs_review, run_id, updated_at`

func (s *SQLiteStore) GetArchetype(ctx context.Context, id string) (*model.Archetype, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteArchetypeCols+` FROM archetypes WHERE id = ?`, id)

	a, err := scanSQLiteArchetype(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get archetype %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) QueryArchetypes(ctx context.Context, f ArchetypeFilter) ([]model.Archetype, error) {
	query := `SELECT ` + sqliteArchetypeCols + ` FROM archetypes WHERE 1=1`
	var args []any

	if f.Company != "" {
		query += ` AND company = ?`
		args = append(args, f.Company)
	}
	if f.Metro != "" {
		query += ` AND metro = ?`
		args = append(args, f.Metro)
	}
	if f.Role != "" {
		query += ` AND role = ?`
		args = append(args, f.Role)
	}
	if f.Seniority != "" {
		query += ` AND seniority = ?`
		args = append(args, string(f.Seniority))
	}
	if f.RecordType != "" {
		query += ` AND record_type = ?`
		args = append(args, string(f.RecordType))
	}
	if f.MinConfidence > 0 {
		query += ` AND composite_confidence >= ?`
		args = append(args, f.MinConfidence)
	}
	if f.NeedsReview != nil {
		query += ` AND needs_review = ?`
		args = append(args, *f.NeedsReview)
	}

	query += ` ORDER BY composite_confidence DESC, id`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query archetypes")
	}
	defer rows.Close()

	var out []model.Archetype
	for rows.Next() {
		a, err := scanSQLiteArchetype(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan archetype")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query archetypes iterate")
}

func scanSQLiteArchetype(row rowScanner) (*model.Archetype, error) {
	var a model.Archetype
	var componentsJSON, evidenceJSON string

	err := row.Scan(&a.ID, &a.Key.Company, &a.Key.Metro, &a.Key.Role, &a.Key.Seniority,
		&a.RecordType,
		&a.HeadcountP10, &a.HeadcountP50, &a.HeadcountP90,
		&a.SalaryP25, &a.SalaryP50, &a.SalaryP75, &a.SalaryMean, &a.SalaryStdDev,
		&a.CompositeConfidence, &componentsJSON, &evidenceJSON, &a.NeedsReview,
		&a.RunID, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(componentsJSON), &a.Components); err != nil {
		return nil, eris.Wrap(err, "unmarshal components")
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &a.Evidence); err != nil {
		return nil, eris.Wrap(err, "unmarshal evidence")
	}
	return &a, nil
}

func (s *SQLiteStore) SupersedeEvidenceLinks(ctx context.Context, archetypeID, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE evidence_links SET superseded_by_run = ?
		  WHERE archetype_id = ? AND superseded_by_run IS NULL AND run_id <> ?`,
		runID, archetypeID, runID,
	)
	return eris.Wrapf(err, "sqlite: supersede links for %s", archetypeID)
}

func (s *SQLiteStore) InsertEvidenceLinks(ctx context.Context, links []model.EvidenceLink) (int64, error) {
	var n int64
	for _, l := range links {
		contributedJSON, err := json.Marshal(l.ContributedTo)
		if err != nil {
			return n, eris.Wrap(err, "sqlite: marshal contributed_to")
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO evidence_links
			   (archetype_id, evidence_type, evidence_id, weight, contributed_to, run_id)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (archetype_id, evidence_id, run_id) DO NOTHING`,
			l.ArchetypeID, string(l.EvidenceType), l.EvidenceID, l.Weight,
			string(contributedJSON), l.RunID,
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: insert link %s", l.EvidenceID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, eris.Wrap(err, "sqlite: rows affected")
		}
		n += affected
	}
	return n, nil
}

func (s *SQLiteStore) ListEvidenceLinks(ctx context.Context, archetypeID string, includeSuperseded bool) ([]model.EvidenceLink, error) {
	query := `SELECT id, archetype_id, evidence_type, evidence_id, weight,
	       contributed_to, run_id, COALESCE(superseded_by_run, '')
	  FROM evidence_links WHERE archetype_id = ?`
	if !includeSuperseded {
		query += ` AND superseded_by_run IS NULL`
	}
	query += ` ORDER BY evidence_id`

	rows, err := s.db.QueryContext(ctx, query, archetypeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence links")
	}
	defer rows.Close()

	var out []model.EvidenceLink
	for rows.Next() {
		var l model.EvidenceLink
		var contributedJSON string
		if err := rows.Scan(&l.ID, &l.ArchetypeID, &l.EvidenceType, &l.EvidenceID,
			&l.Weight, &contributedJSON, &l.RunID, &l.SupersededByRun); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence link")
		}
		if err := json.Unmarshal([]byte(contributedJSON), &l.ContributedTo); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal contributed_to")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence links iterate")
}

func (s *SQLiteStore) InsertReviewItems(ctx context.Context, items []model.ReviewItem) (int64, error) {
	var n int64
	for _, item := range items {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO review_items
			   (item_type, archetype_id, current_value, suggested_value, confidence,
			    issue_description, status, run_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (archetype_id, item_type, issue_description, run_id) DO NOTHING`,
			string(item.ItemType), item.ArchetypeID, item.CurrentValue,
			item.SuggestedValue, item.Confidence, item.IssueDescription,
			string(item.Status), item.RunID, item.CreatedAt,
		)
		if err != nil {
			return n, eris.Wrap(err, "sqlite: insert review item")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, eris.Wrap(err, "sqlite: rows affected")
		}
		n += affected
	}
	return n, nil
}

func (s *SQLiteStore) ListReviewItems(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, item_type, archetype_id, current_value, suggested_value,
	       confidence, issue_description, status, run_id, created_at
	  FROM review_items`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review items")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var item model.ReviewItem
		if err := rows.Scan(&item.ID, &item.ItemType, &item.ArchetypeID,
			&item.CurrentValue, &item.SuggestedValue, &item.Confidence,
			&item.IssueDescription, &item.Status, &item.RunID, &item.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list review items iterate")
}

func (s *SQLiteStore) ResolveReviewItem(ctx context.Context, id int64, status model.ReviewStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_items SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review item %d", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return eris.Errorf("review item not found: %d", id)
	}
	return nil
}

func (s *SQLiteStore) UpsertUnmatchedTitles(ctx context.Context, titles []model.UnmatchedTitle) (int64, error) {
	var n int64
	for _, t := range titles {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO unmatched_titles
			   (normalized_title, sample_raw_title, count, first_seen_run, last_seen_run)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (normalized_title) DO UPDATE SET
			   count = unmatched_titles.count + excluded.count,
			   last_seen_run = excluded.last_seen_run`,
			t.NormalizedTitle, t.SampleRawTitle, t.Count, t.FirstSeenRun, t.LastSeenRun,
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert unmatched title %q", t.NormalizedTitle)
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) ListUnmatchedTitles(ctx context.Context, limit int) ([]model.UnmatchedTitle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT normalized_title, sample_raw_title, count, first_seen_run, last_seen_run
		   FROM unmatched_titles ORDER BY count DESC, normalized_title LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unmatched titles")
	}
	defer rows.Close()

	var out []model.UnmatchedTitle
	for rows.Next() {
		var t model.UnmatchedTitle
		if err := rows.Scan(&t.NormalizedTitle, &t.SampleRawTitle, &t.Count,
			&t.FirstSeenRun, &t.LastSeenRun); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unmatched title")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unmatched titles iterate")
}

func (s *SQLiteStore) UpsertMacroPriors(ctx context.Context, priors []model.MacroPrior) (int64, error) {
	var n int64
	for _, p := range priors {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO macro_priors
			   (role, metro, employment, establishments, wage_p25, wage_median,
			    wage_p75, wage_mean, as_of, source_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (role, metro) DO UPDATE SET
			   employment = excluded.employment,
			   establishments = excluded.establishments,
			   wage_p25 = excluded.wage_p25,
			   wage_median = excluded.wage_median,
			   wage_p75 = excluded.wage_p75,
			   wage_mean = excluded.wage_mean,
			   as_of = excluded.as_of,
			   source_id = excluded.source_id`,
			p.Role, p.Metro, p.Employment, p.Establishments,
			p.WageP25, p.WageMedian, p.WageP75, p.WageMean, nullTime(p.AsOf), p.SourceID,
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert macro prior %s/%s", p.Role, p.Metro)
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) ListMacroPriors(ctx context.Context) ([]model.MacroPrior, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, metro, employment, establishments, wage_p25, wage_median,
		        wage_p75, wage_mean, as_of, source_id
		   FROM macro_priors ORDER BY role, metro`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list macro priors")
	}
	defer rows.Close()

	var out []model.MacroPrior
	for rows.Next() {
		var p model.MacroPrior
		var asOf sql.NullTime
		if err := rows.Scan(&p.Role, &p.Metro, &p.Employment, &p.Establishments,
			&p.WageP25, &p.WageMedian, &p.WageP75, &p.WageMean, &asOf, &p.SourceID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan macro prior")
		}
		if asOf.Valid {
			p.AsOf = asOf.Time
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list macro priors iterate")
}

func (s *SQLiteStore) UpsertEvidenceSources(ctx context.Context, sources []model.EvidenceSource) (int64, error) {
	var n int64
	for _, src := range sources {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO evidence_sources (id, tier, base_weight, evidence_type)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   tier = excluded.tier,
			   base_weight = excluded.base_weight,
			   evidence_type = excluded.evidence_type`,
			src.ID, string(src.Tier), src.BaseWeight, string(src.EvidenceType),
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert evidence source %s", src.ID)
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) ListEvidenceSources(ctx context.Context) ([]model.EvidenceSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tier, base_weight, evidence_type FROM evidence_sources ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence sources")
	}
	defer rows.Close()

	var out []model.EvidenceSource
	for rows.Next() {
		var src model.EvidenceSource
		if err := rows.Scan(&src.ID, &src.Tier, &src.BaseWeight, &src.EvidenceType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence sources iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, summary *model.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (run_id, mode, rule_set_version, status, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET status = excluded.status`,
		summary.RunID, string(summary.Mode), summary.RuleSetVersion,
		string(model.RunRunning), summary.StartedAt,
	)
	return eris.Wrapf(err, "sqlite: start run %s", summary.RunID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, summary = ?, completed_at = ? WHERE run_id = ?`,
		string(summary.Status), string(summaryJSON), summary.CompletedAt, summary.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", summary.RunID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return eris.Errorf("run not found: %s", summary.RunID)
	}
	return nil
}

func (s *SQLiteStore) LastSuccessfulRun(ctx context.Context) (*time.Time, error) {
	var completed time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT completed_at FROM run_log
		  WHERE status = ? AND completed_at IS NOT NULL
		  ORDER BY completed_at DESC LIMIT 1`,
		string(model.RunSuccess),
	).Scan(&completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: last successful run")
	}
	return &completed, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, mode, rule_set_version, status, started_at, completed_at, summary
		   FROM run_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			run          model.RunSummary
			mode, status string
			runID        string
			startedAt    time.Time
			completedAt  sql.NullTime
			summaryJSON  sql.NullString
		)
		if err := rows.Scan(&runID, &mode, &run.RuleSetVersion, &status, &startedAt, &completedAt, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if summaryJSON.Valid && summaryJSON.String != "" {
			if err := json.Unmarshal([]byte(summaryJSON.String), &run); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal run %s summary", runID)
			}
		}
		// The columns are authoritative; the summary blob is absent while a
		// run is still in flight.
		run.RunID = runID
		run.Mode = model.RunMode(mode)
		run.Status = model.RunStatus(status)
		run.StartedAt = startedAt
		run.CompletedAt = nil
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_checkpoints (run_id, stage, source_id, batch_offset, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, stage, source_id) DO UPDATE SET
		   batch_offset = excluded.batch_offset,
		   updated_at = excluded.updated_at`,
		cp.RunID, cp.Stage, cp.SourceID, cp.Offset, cp.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) LoadCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, source_id, batch_offset, updated_at
		   FROM run_checkpoints WHERE run_id = ? ORDER BY stage, source_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load checkpoints")
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.Stage, &cp.SourceID, &cp.Offset, &cp.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load checkpoints iterate")
}

func (s *SQLiteStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_checkpoints WHERE run_id = ?`, runID)
	return eris.Wrap(err, "sqlite: delete checkpoints")
}

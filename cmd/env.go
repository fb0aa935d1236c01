package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/jobsignal/archetype-cli/internal/confidence"
	"github.com/jobsignal/archetype-cli/internal/evidence"
	"github.com/jobsignal/archetype-cli/internal/fetcher"
	"github.com/jobsignal/archetype-cli/internal/identity"
	"github.com/jobsignal/archetype-cli/internal/pipeline"
	"github.com/jobsignal/archetype-cli/internal/source"
	"github.com/jobsignal/archetype-cli/internal/store"
	"github.com/jobsignal/archetype-cli/internal/synth"
	"github.com/jobsignal/archetype-cli/internal/taxonomy"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "archetype.db"
		}
		return store.NewSQLite(ctx, path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRules() (*taxonomy.RuleSet, error) {
	eps := taxonomy.WithAmbiguityEpsilon(cfg.Pipeline.AmbiguityEpsilon)
	if cfg.Taxonomy.RulesPath == "" {
		return taxonomy.DefaultRuleSet(eps)
	}
	return taxonomy.LoadRuleSet(cfg.Taxonomy.RulesPath, eps)
}

func initResolver() (*identity.Resolver, error) {
	if cfg.Identity.MetrosPath == "" {
		return identity.NewResolver(nil), nil
	}
	metros, err := identity.LoadMetros(cfg.Identity.MetrosPath)
	if err != nil {
		return nil, err
	}
	return identity.NewResolver(metros), nil
}

// env bundles the wired pipeline and its store for commands that run it.
type env struct {
	Store  store.Store
	Engine *pipeline.Engine
	Rules  *taxonomy.RuleSet
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := initRules()
	if err != nil {
		st.Close()
		return nil, err
	}
	resolver, err := initResolver()
	if err != nil {
		st.Close()
		return nil, err
	}

	reg := source.NewRegistry(cfg.Sources)

	decay := evidence.DecayConfig{
		HalfLifeDays: cfg.Decay.HalfLifeDays,
		Floor:        cfg.Decay.Floor,
	}
	agg := evidence.NewAggregator(evidence.Config{
		SparseThreshold: cfg.Aggregate.SparseThreshold,
		ShrinkageK:      cfg.Aggregate.ShrinkageK,
		Decay:           decay,
	}, reg.Sources())

	scorer, err := confidence.NewScorer(cfg.Confidence)
	if err != nil {
		st.Close()
		return nil, err
	}

	eng := pipeline.New(pipeline.Params{
		Store:    st,
		Registry: reg,
		Fetcher:  fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: cfg.Sources.UserAgent}),
		Rules:    rules,
		Resolver: resolver,
		Synth:    synth.New(agg, scorer, decay, reg.Sources()),

		BatchSize: cfg.Pipeline.BatchSize,
		Workers:   cfg.Pipeline.Workers,
		TempDir:   cfg.Sources.TempDir,
	})

	return &env{Store: st, Engine: eng, Rules: rules}, nil
}

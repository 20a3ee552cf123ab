package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/events"
	"github.com/sells-group/outreach-cli/internal/jobs"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/ratelimit"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scoring"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/hunter"
	"github.com/sells-group/outreach-cli/pkg/jina"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

// maxContactPages bounds how many contact pages the scraper follows.
const maxContactPages = 3

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// appEnv holds the wired collaborators shared by commands.
type appEnv struct {
	Store     store.Store
	Breakers  *resilience.Breakers
	Scorer    *scoring.Engine
	Machine   *stage.Machine
	Intake    *discovery.Intake
	Orch      *orchestrator.Orchestrator
	Publisher events.Publisher
}

// envOptions tweak how the orchestrator runs in this process.
type envOptions struct {
	// Detached creates jobs without running them here.
	Detached bool
}

// initEnv wires the store, provider clients, stage machine, workers and
// orchestrator. Providers without credentials stay nil and the jobs that
// need them fail with a configuration error.
func initEnv(ctx context.Context, opts envOptions) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &appEnv{Store: st}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	log := zap.L().With(zap.String("component", "env"))

	limiter := ratelimit.New(cfg.RateLimit, ratelimit.WithLogger(zap.L()))
	env.Breakers = resilience.NewBreakers(resilience.BreakerConfigFrom(cfg.Circuit))
	guard := provider.NewGuard(limiter, env.Breakers,
		resilience.RetryPolicyFrom(cfg.Retry),
		time.Duration(cfg.Jobs.ProviderTimeoutS)*time.Second,
	)

	deps := jobs.Deps{
		Store:    st,
		Registry: discovery.DefaultRegistry(cfg.Discovery.Blocklist),
	}

	var jinaClient jina.Client
	if cfg.Jina.Key != "" {
		jinaClient = jina.NewClient(cfg.Jina.Key, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	var googleClient google.Client
	if cfg.Google.Key != "" {
		googleClient = google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
	}
	if search, err := provider.NewSearch(cfg.Discovery.SearchProvider, jinaClient, googleClient); err != nil {
		log.Debug("search provider not configured", zap.Error(err))
	} else {
		deps.Search = guard.Search(cfg.Discovery.SearchProvider, search)
	}

	var finder provider.EmailFinder
	if cfg.Hunter.Key != "" {
		h := provider.NewHunter(hunter.NewClient(cfg.Hunter.Key, hunter.WithBaseURL(cfg.Hunter.BaseURL)))
		finder = guard.Finder("hunter", h)
		deps.Verifier = guard.Verifier("hunter", h)
	}

	fetchers := []enrich.Fetcher{enrich.Guarded(guard, "scrape", enrich.NewHTTPFetcher())}
	if jinaClient != nil {
		fetchers = append(fetchers, enrich.Guarded(guard, "jina", enrich.NewJinaFetcher(jinaClient)))
	}
	deps.Enricher = enrich.New(enrich.NewChain(fetchers...), finder, maxContactPages)

	if cfg.Anthropic.Key != "" {
		c := provider.NewAnthropicComposer(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
		deps.Composer = guard.Composer("anthropic", c)
	}

	if cfg.SMTP.Host != "" {
		m, err := mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.Outreach.SenderName,
		})
		if err != nil {
			log.Warn("smtp sender not configured", zap.Error(err))
		} else {
			deps.Sender = guard.Sender("smtp", provider.NewSMTPSender(m))
		}
	}

	engine, err := scoring.NewEngine(scoring.WeightsFromConfig(cfg.Scoring), scoring.Options{
		TargetKeywords:  cfg.Scoring.TargetKeywords,
		RecencyHalfLife: time.Duration(cfg.Scoring.RecencyHalfLifeDay) * 24 * time.Hour,
	})
	if err != nil {
		// Score jobs report this; the rest of the pipeline keeps working.
		log.Warn("scoring disabled", zap.Error(err))
		deps.ScorerErr = err
	} else {
		env.Scorer = engine
		deps.Scorer = engine
	}

	if engine != nil {
		env.Machine = stage.NewMachine(st, stage.WithScorer(engine))
	} else {
		env.Machine = stage.NewMachine(st)
	}
	deps.Machine = env.Machine
	env.Intake = &discovery.Intake{Store: st, Machine: env.Machine}

	env.Publisher = events.Nop{}
	if cfg.Events.URL != "" {
		pub, err := events.Dial(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			return nil, err
		}
		env.Publisher = pub
	}

	jobCfg, err := jobs.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}

	orchOpts := orchestrator.OptionsFrom(cfg.Jobs)
	orchOpts.Publisher = env.Publisher
	orchOpts.Detached = opts.Detached
	env.Orch = orchestrator.New(st, orchOpts, jobs.Workers(deps, jobCfg)...)

	ok = true
	return env, nil
}

// Close releases the publisher and store.
func (e *appEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		e.Store.Close() //nolint:errcheck
	}
}

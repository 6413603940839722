package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/strataquant/strata/internal/config"
	"github.com/strataquant/strata/internal/logger"
	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
	"github.com/strataquant/strata/pkg/agent"
	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/quantics"
	"github.com/strataquant/strata/pkg/runqueue"
	"github.com/strataquant/strata/pkg/stats"
	"github.com/strataquant/strata/pkg/transcript"
)

// runtime is the wired service graph behind the ask and serve commands.
// Close releases everything in reverse construction order.
type runtime struct {
	cfg         *config.Config
	log         *logger.Logger
	transcripts *transcript.Store
	validator   *analysis.Validator
	queue       *runqueue.Queue
	runner      *agent.Runner
	resultCache *quantics.ResultCache
	credWatcher *quantics.CredentialsWatcher
	retention   *transcript.Retention
	archiver    *transcript.Archiver
}

// newRuntime loads the config and assembles the runner stack. Console
// logging is off for interactive commands so transcript output stays
// clean; the log file carries everything either way.
func newRuntime(console bool) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:    level,
		File:     cfg.Logging.File,
		Console:  console,
		Pretty:   console,
		Redact:   cfg.Logging.Redaction,
		RotateMB: cfg.Logging.MaxSize,
		KeepDays: cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log}

	if err := tracing.Init("strata", cfg.Observability.TraceSampleRatio); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	if cfg.Observability.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Observability.AuditFile); err != nil {
			log.Warn().Err(err).Msg("Audit log disabled")
		}
	}

	store, err := transcript.New(cfg.Transcripts.Dir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open transcript store: %w", err)
	}
	rt.transcripts = store

	if cfg.Transcripts.Retention.Enabled {
		retention, err := transcript.NewRetention(store,
			cfg.Transcripts.Retention.Schedule,
			time.Duration(cfg.Transcripts.Retention.MaxAgeDays)*24*time.Hour,
			cfg.Transcripts.Retention.MaxEntries,
			cfg.Transcripts.Retention.Archive)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("invalid retention settings: %w", err)
		}
		if err := retention.Start(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to start retention sweeps: %w", err)
		}
		rt.retention = retention

		// Retention leaves active conversations to the archiver, so
		// archiving needs one running to feed it.
		if cfg.Transcripts.Retention.Archive {
			archiver := transcript.NewArchiver(store, 0)
			if err := archiver.Start(); err != nil {
				rt.Close()
				return nil, fmt.Errorf("failed to start transcript archiver: %w", err)
			}
			rt.archiver = archiver
		}
	}

	registry, err := buildRegistry(cfg.Catalog)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build statistic registry: %w", err)
	}

	validator, err := analysis.NewValidator(cfg.Quantics.Assets)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build request validator: %w", err)
	}
	rt.validator = validator

	executor, err := rt.buildExecutor()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.queue = runqueue.New()

	profiles := make([]agent.AuthProfile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	// Ties in priority break toward the configured primary provider;
	// the runner keeps insertion order for equal priorities.
	primary := cfg.Agent.Provider
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Provider == primary && profiles[j].Provider != primary
	})

	runner, err := agent.NewRunner(agent.Config{
		Transcripts:  store,
		Registry:     registry,
		Validator:    validator,
		Executor:     executor,
		Queue:        rt.queue,
		Factory:      agent.NewFactory(),
		Logger:       log.Zerolog(),
		AuthProfiles: profiles,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build agent runner: %w", err)
	}
	rt.runner = runner

	return rt, nil
}

// buildRegistry maps the configured catalog onto descriptors. An empty
// catalog uses the built-in statistics.
func buildRegistry(catalog []config.CatalogEntry) (*stats.Registry, error) {
	if len(catalog) == 0 {
		return stats.DefaultRegistry()
	}
	descriptors := make([]stats.Descriptor, 0, len(catalog))
	for _, entry := range catalog {
		descriptors = append(descriptors, stats.Descriptor{
			Name:              entry.Name,
			Endpoint:          entry.Endpoint,
			Description:       entry.Description,
			OutputDescription: entry.OutputDescription,
		})
	}
	return stats.NewRegistry(descriptors...)
}

// buildExecutor wires the Quantics client, reading credentials from the
// config or from a watched credentials file, with an optional SQLite
// result cache in front.
func (rt *runtime) buildExecutor() (quantics.Executor, error) {
	qcfg := quantics.Config{
		BaseURL:  rt.cfg.Quantics.BaseURL,
		Username: rt.cfg.Quantics.Username,
		Password: rt.cfg.Quantics.Password,
		Timeout:  time.Duration(rt.cfg.Quantics.TimeoutSeconds) * time.Second,
		Logger:   rt.log.Zerolog(),
	}

	creds := quantics.NewCredentialCache(qcfg)
	if path := rt.cfg.Quantics.CredentialsFile; path != "" {
		fileCreds, err := quantics.LoadCredentialsFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials file: %w", err)
		}
		creds.SetCredentials(fileCreds.Username, fileCreds.Password)

		watcher, err := quantics.NewCredentialsWatcher(rt.log.Zerolog(), path, creds)
		if err != nil {
			rt.log.Warn().Err(err).Msg("Credentials file watch disabled")
		} else {
			rt.credWatcher = watcher
		}
	}

	var executor quantics.Executor = quantics.NewClient(qcfg, creds)
	if rt.cfg.Cache.Enabled {
		cache, err := quantics.NewResultCache(
			rt.cfg.Cache.Path,
			time.Duration(rt.cfg.Cache.TTLMinutes)*time.Minute,
			rt.log.Zerolog())
		if err != nil {
			return nil, fmt.Errorf("failed to open result cache: %w", err)
		}
		rt.resultCache = cache
		if removed, err := cache.Prune(); err != nil {
			rt.log.Warn().Err(err).Msg("Result cache prune failed")
		} else if removed > 0 {
			rt.log.Debug().Int64("removed", removed).Msg("Pruned expired cache entries")
		}
		executor = quantics.NewCachedExecutor(executor, cache, rt.log.Zerolog())
	}

	return executor, nil
}

// runDefaults translates the agent config section into run parameters.
func (rt *runtime) runDefaults() agent.RunConfig {
	defaults := agent.DefaultRunConfig()
	defaults.Model = rt.cfg.Agent.Model
	defaults.Temperature = rt.cfg.Agent.Temperature
	defaults.MaxTokens = rt.cfg.Agent.MaxTokens
	defaults.SystemPrompt = rt.cfg.Agent.SystemPrompt
	defaults.MaxToolRounds = rt.cfg.Agent.MaxToolRounds
	return defaults
}

func (rt *runtime) Close() {
	if rt.credWatcher != nil {
		_ = rt.credWatcher.Stop()
	}
	if rt.retention != nil {
		_ = rt.retention.Stop()
	}
	if rt.archiver != nil {
		_ = rt.archiver.Stop()
	}
	if rt.queue != nil {
		_ = rt.queue.Close()
	}
	if rt.resultCache != nil {
		_ = rt.resultCache.Close()
	}
	if rt.transcripts != nil {
		_ = rt.transcripts.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tracing.Shutdown(ctx)

	if rt.log != nil {
		_ = rt.log.Close()
	}
}

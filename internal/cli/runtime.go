package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"ideaforge/api/internal/app"
	"ideaforge/api/internal/archive"
	"ideaforge/api/internal/config"
	"ideaforge/api/internal/feed"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/repohost"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
)

// runtime holds a wired service and everything that must be closed with it.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *sql.DB
	service *app.Service
	closers []func()
}

func (r *runtime) Close() {
	r.service.Wait()
	r.closeAll()
}

type runtimeOptions struct {
	migrate bool
}

func openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	rt := &runtime{cfg: cfg, logger: logger}

	deps := app.Deps{
		Thresholds:    cfg.Thresholds(),
		WebhookURL:    cfg.WebhookURL(),
		WebhookSecret: cfg.WebhookSecret,
		AuthWindow:    cfg.AuthWindow,
		Metrics:       metrics.NewRegistry(),
		Logger:        logger,
	}

	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		deps.Store = store.NewMemoryStore()
	case "postgres", "":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.db = db
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		if opts.migrate {
			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				rt.closeAll()
				return nil, fmt.Errorf("migrations failed: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", "versions", applied)
			}
		}
		deps.Store = store.NewPostgresStore(db)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	host, err := buildHost(cfg)
	if err != nil {
		rt.closeAll()
		return nil, err
	}
	deps.Host = host

	publishers := feed.Multi{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisFeed, err := feed.NewRedis(cfg.RedisURL)
		if err != nil {
			rt.closeAll()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = redisFeed.Close() })
		publishers = append(publishers, redisFeed)
	}
	if strings.TrimSpace(cfg.NATSURL) != "" {
		natsFeed, err := feed.NewNATS(cfg.NATSURL)
		if err != nil {
			rt.closeAll()
			return nil, fmt.Errorf("nats connection failed: %w", err)
		}
		rt.closers = append(rt.closers, natsFeed.Close)
		publishers = append(publishers, natsFeed)
	}
	if len(publishers) > 0 {
		deps.Feed = publishers
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		rt.closers = append(rt.closers, meili.Close)
	}
	deps.Search = search.NewService(meili, app.SearchFallback(deps.Store), logger)

	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		bucket, err := archive.Open(ctx, archive.Options{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			logger.Warn("webhook archive disabled", "error", err)
		} else {
			deps.Archive = bucket
		}
	}

	rt.service = app.New(deps)
	return rt, nil
}

func (r *runtime) closeAll() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func buildHost(cfg config.Config) (repohost.Host, error) {
	switch cfg.RepoHost {
	case "local":
		if err := os.MkdirAll(cfg.LocalReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repos dir: %w", err)
		}
		return repohost.NewLocal(cfg.LocalReposDir), nil
	case "github", "":
		if strings.TrimSpace(cfg.GitHubToken) == "" {
			return nil, errors.New("GITHUB_TOKEN is required when REPO_HOST=github")
		}
		return repohost.NewGitHub(cfg.GitHubToken, cfg.GitHubOrg, cfg.GitHubAPIURL, cfg.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown repo host %q", cfg.RepoHost)
	}
}

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/risk"
	"github.com/nextgenfi/targeting-cli/internal/store"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "targeting.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// listenPool returns the pgx pool behind a Postgres store.
func listenPool(st store.Store) (*pgxpool.Pool, error) {
	pg, ok := st.(*store.PostgresStore)
	if !ok {
		return nil, eris.New("LISTEN requires the postgres store driver")
	}
	pool, ok := pg.Pool().(*pgxpool.Pool)
	if !ok {
		return nil, eris.New("postgres store is not backed by a pgx pool")
	}
	return pool, nil
}

func initSelector(st store.Store, rec *metrics.Recorder) (*targeting.Selector, error) {
	policy := risk.FromConfig(cfg.Risk)
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return targeting.NewSelector(st, st,
		targeting.WithPolicy(policy),
		targeting.WithTieBand(cfg.Targeting.TieBandKM),
		targeting.WithMaxLimit(cfg.Targeting.MaxLimit),
		targeting.WithMetrics(rec),
	), nil
}

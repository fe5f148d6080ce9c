package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/license-watch/internal/config"
	"github.com/sells-group/license-watch/internal/credentials"
	"github.com/sells-group/license-watch/internal/metrics"
)

// Open connects every backend named in cfg.Backends, in order.
func Open(ctx context.Context, cfg config.StoreConfig, creds *credentials.Credentials, m *metrics.Metrics) (*Multi, error) {
	var stores []Store
	closeAll := func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}

	for _, backend := range cfg.Backends {
		switch backend {
		case "xata":
			conn, err := XataConnString(creds.XataDBURL, creds.XataAPIKey)
			if err != nil {
				closeAll()
				return nil, err
			}
			pg, err := NewPostgres(ctx, conn, &PoolConfig{MaxConns: cfg.MaxConns})
			if err != nil {
				closeAll()
				return nil, err
			}
			stores = append(stores, pg)
		case "fauna":
			stores = append(stores, NewFauna(creds.FaunaSecret, FaunaOptions{
				Endpoint:  cfg.FaunaEndpoint,
				BatchSize: cfg.FaunaBatchSize,
			}))
		default:
			closeAll()
			return nil, eris.Errorf("store: unknown backend %q", backend)
		}
	}

	return NewMulti(m, stores...)
}

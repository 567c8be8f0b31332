package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wilsonlabs/formulaengine/internal/shareddoc"
	"github.com/wilsonlabs/formulaengine/pkg/store"
	"github.com/wilsonlabs/formulaengine/pkg/store/filestore"
	"github.com/wilsonlabs/formulaengine/pkg/store/httpstore"
	"github.com/wilsonlabs/formulaengine/pkg/store/kvstore"
	"github.com/wilsonlabs/formulaengine/pkg/store/rdoc"
	"github.com/wilsonlabs/formulaengine/pkg/store/sqlstore"
)

// openStore builds the store.Store named by cfg.Kind. The returned
// closer releases any resources the backend holds open (a no-op for
// backends, like rdoc and httpstore, that hold none).
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case "", "rdoc":
		doc := shareddoc.NewDocument()
		return rdoc.New(doc, rdoc.Options{}), noop, nil
	case "file":
		s, err := filestore.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "sqlite":
		s, err := sqlstore.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "bbolt":
		s, err := kvstore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "http":
		return httpstore.New(cfg.URL, http.DefaultClient), noop, nil
	default:
		return nil, nil, fmt.Errorf("enginectl: unknown store kind %q", cfg.Kind)
	}
}

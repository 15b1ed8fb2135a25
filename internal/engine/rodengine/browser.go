package rodengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
)

// Browser wraps one rod.Browser connection.
type Browser struct {
	rod *rod.Browser
	log *zap.Logger
	defaultTimeout time.Duration
}

// NewContext opens a fresh incognito browser context so pages in
// different BAP Contexts never share cookies/storage — rod models this
// as Browser.Incognito(), a distinct BrowserContextID under the same
// connection.
func (b *Browser) NewContext(ctx context.Context, opts model.ContextOptions) (engine.Context, error) {
	incognito, err := b.rod.Incognito()
	if err != nil {
		return nil, fmt.Errorf("rodengine: incognito context: %w", err)
	}
	c := &Context{rod: incognito, log: b.log, opts: opts, timeout: b.defaultTimeout}
	if err := c.applyOptions(ctx, opts); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Browser) Close(ctx context.Context) error {
	return b.rod.Close()
}

package rodengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
)

// Context wraps an incognito rod.Browser scoped to one BAP Context.
type Context struct {
	rod *rod.Browser
	log *zap.Logger
	opts model.ContextOptions
	timeout time.Duration
	id string
}

func (c *Context) ID() string {
	if c.id == "" {
		c.id = fmt.Sprintf("%p", c.rod)
	}
	return c.id
}

func (c *Context) applyOptions(ctx context.Context, opts model.ContextOptions) error {
	if opts.UserAgent != "" {
		if err := c.rod.SetExtraHeaders([]string{}); err != nil {
			return fmt.Errorf("rodengine: set extra headers: %w", err)
		}
	}
	return nil
}

// NewPage opens a fresh tab within this context and applies the
// context's viewport/user-agent/geolocation options to it.
func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	p, err := c.rod.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("rodengine: new page: %w", err)
	}
	page := &Page{rod: p, log: c.log, timeout: c.timeout}
	if c.opts.Viewport != nil {
		if err := page.SetViewportSize(ctx, *c.opts.Viewport); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (c *Context) Close(ctx context.Context) error {
	return c.rod.Close()
}

func (c *Context) SetGeolocation(ctx context.Context, geo model.Geolocation) error {
	return c.rod.Call("Emulation.setGeolocationOverride", proto.EmulationSetGeolocationOverride{
			Latitude: &geo.Latitude,
			Longitude: &geo.Longitude,
			Accuracy: &geo.Accuracy,
	})
}

func (c *Context) SetOffline(ctx context.Context, offline bool) error {
	return c.rod.Call("Network.emulateNetworkConditions", proto.NetworkEmulateNetworkConditions{
			Offline: offline,
	})
}

func (c *Context) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	raw, err := c.rod.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("rodengine: get cookies: %w", err)
	}
	out := make([]engine.Cookie, 0, len(raw))
	for _, ck := range raw {
		out = append(out, engine.Cookie{
				Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path,
				HTTPOnly: ck.HTTPOnly, Secure: ck.Secure,
		})
	}
	return out, nil
}

func (c *Context) SetCookies(ctx context.Context, cookies []engine.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, ck := range cookies {
		params = append(params, &proto.NetworkCookieParam{
				Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path,
				HTTPOnly: ck.HTTPOnly, Secure: ck.Secure,
		})
	}
	return c.rod.SetCookies(params)
}

func (c *Context) ClearCookies(ctx context.Context) error {
	return c.rod.Call("Network.clearBrowserCookies", nil)
}

// StorageState extracts cookies + localStorage, gated by the policy
// stack's storage-state extraction guard before this is ever
// invoked — this adapter does not itself gate the call.
func (c *Context) StorageState(ctx context.Context) (map[string]any, error) {
	cookies, err := c.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cookies": cookies}, nil
}

func (c *Context) SetStorageState(ctx context.Context, state map[string]any) error {
	raw, ok := state["cookies"].([]engine.Cookie)
	if !ok {
		return nil
	}
	return c.SetCookies(ctx, raw)
}

package rodengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browseragentprotocol/bap/internal/engine"
)

// interceptState tracks one page's hijack router and its paused requests,
// each blocked on its own resolution channel until network/fulfill,
// network/abort, or network/continue answers it.
type interceptState struct {
	mu sync.Mutex
	router *rod.HijackRouter
	pending map[string]chan engine.NetworkResolution
}

func (p *Page) intercept() *interceptState {
	if p.intercepts == nil {
		p.intercepts = &interceptState{pending: make(map[string]chan engine.NetworkResolution)}
	}
	return p.intercepts
}

// SetNetworkInterception arms go-rod's hijack router over patterns (spec
// network interception); each matching request blocks in its own
// goroutine until ResolveInterceptedRequest answers it.
func (p *Page) SetNetworkInterception(ctx context.Context, enabled bool, patterns []string) error {
	st := p.intercept()
	st.mu.Lock()
	defer st.mu.Unlock()

	if !enabled {
		if st.router != nil {
			st.router.Stop()
			st.router = nil
		}
		return nil
	}
	if st.router != nil {
		st.router.Stop()
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	router := p.rod.HijackRequests()
	for _, pattern := range patterns {
		router.MustAdd(pattern, func(hj *rod.Hijack) {
				id := fmt.Sprintf("req-%d", time.Now().UnixNano())
				wait := make(chan engine.NetworkResolution, 1)

				st.mu.Lock()
				st.pending[id] = wait
				st.mu.Unlock()

				if p.onNetworkRequest != nil {
					p.onNetworkRequest(map[string]any{
							"requestId": id,
							"url": hj.Request.URL().String(),
							"method": hj.Request.Method(),
					})
				}

				res := <-wait
				st.mu.Lock()
				delete(st.pending, id)
				st.mu.Unlock()

				switch res.Action {
				case "fulfill":
					for k, v := range res.Headers {
						hj.Response.SetHeader(k, v)
					}
					hj.Response.Payload().ResponseCode = res.Status
					hj.Response.SetBody(res.Body)
				case "abort":
					hj.Response.Fail(rod.NetworkErrorReason(res.ErrorReason))
				default: // "continue": returning without touching hj.Response lets it through unmodified
				}
		})
	}
	go router.Run()
	st.router = router
	return nil
}

// ResolveInterceptedRequest answers a paused request by requestID.
func (p *Page) ResolveInterceptedRequest(ctx context.Context, requestID string, res engine.NetworkResolution) error {
	st := p.intercept()
	st.mu.Lock()
	wait, ok := st.pending[requestID]
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("rodengine: no pending request %q", requestID)
	}
	select {
	case wait <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleDialog answers the page's currently open JavaScript dialog.
func (p *Page) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	return proto.PageHandleJavaScriptDialog{Accept: accept, PromptText: promptText}.Call(p.withTimeout(ctx))
}

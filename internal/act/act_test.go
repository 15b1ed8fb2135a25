package act

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/engine/enginetest"
	"github.com/browseragentprotocol/bap/internal/model"
)

func newTestPage(t *testing.T) engine.Page {
	t.Helper()
	eng := enginetest.New()
	browser, err := eng.Launch(context.Background(), engine.LaunchOptions{})
	require.NoError(t, err)
	ctx, err := browser.NewContext(context.Background(), model.ContextOptions{})
	require.NoError(t, err)
	page, err := ctx.NewPage(context.Background())
	require.NoError(t, err)
	return page
}

func TestRunCompletesAllSteps(t *testing.T) {
	page := newTestPage(t)
	fake := page.(*enginetest.Page)
	fake.Elements = []enginetest.Element{{Role: "button", Name: "Submit", Visible: true, Enabled: true}}

	e := New(page)
	result, err := e.Run(context.Background(), []Step{
			{Action: "click", Selector: engine.EngineSelector{Kind: "css", Value: "#submit"}},
			{Action: "fill", Selector: engine.EngineSelector{Kind: "css", Value: "#name"}, Value: "hello"},
	})

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Len(t, result.Steps, 2)
	assert.Equal(t, 1, result.Steps[0].Attempts)
}

func TestRunSkipsStepOnFalseCondition(t *testing.T) {
	page := newTestPage(t)
	e := New(page)

	result, err := e.Run(context.Background(), []Step{
			{
				Action: "click",
				Selector: engine.EngineSelector{Kind: "css", Value: "#x"},
				Condition: func(ctx context.Context, p engine.Page) (bool, error) { return false, nil },
			},
	})

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.True(t, result.Steps[0].Skipped)
}

func TestRunStopsOnExhaustedRetries(t *testing.T) {
	page := newTestPage(t)
	// no elements registered -> every locator call fails with "not found"
	e := New(page)

	result, err := e.Run(context.Background(), []Step{
			{Action: "click", Selector: engine.EngineSelector{Kind: "css", Value: "#missing"}, MaxRetries: 1, BaseDelay: time.Millisecond},
	})

	require.Error(t, err)
	assert.False(t, result.Completed)
	assert.Equal(t, 0, result.StoppedAt)
	assert.NotEmpty(t, result.Steps[0].Error)
	assert.Equal(t, 2, result.Steps[0].Attempts)
}

func TestRunStopsAtFirstFailureNotLaterSteps(t *testing.T) {
	page := newTestPage(t)
	e := New(page)

	result, err := e.Run(context.Background(), []Step{
			{Action: "click", Selector: engine.EngineSelector{Kind: "css", Value: "#missing"}, MaxRetries: 0, BaseDelay: time.Millisecond},
			{Action: "click", Selector: engine.EngineSelector{Kind: "css", Value: "#never-reached"}},
	})

	require.Error(t, err)
	assert.Len(t, result.Steps, 1)
	assert.Equal(t, 0, result.StoppedAt)
}

func TestRunUnknownActionErrors(t *testing.T) {
	page := newTestPage(t)
	e := New(page)

	_, err := e.Run(context.Background(), []Step{
			{Action: "teleport", Selector: engine.EngineSelector{Kind: "css", Value: "#x"}},
	})

	require.Error(t, err)
}

func TestRunRespectsGlobalDeadline(t *testing.T) {
	page := newTestPage(t)
	e := New(page)
	e.Deadline = time.Millisecond

	_, err := e.Run(context.Background(), []Step{
			{Action: "click", Selector: engine.EngineSelector{Kind: "css", Value: "#missing"}, MaxRetries: 5, BaseDelay: 20 * time.Millisecond},
	})

	require.Error(t, err)
}

func TestBackoffDelayCapsAtMaxBackoff(t *testing.T) {
	d := backoffDelay(30, time.Second)
	assert.Equal(t, maxBackoff, d)
}

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, backoffDelay(0, 200*time.Millisecond))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(1, 200*time.Millisecond))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(2, 200*time.Millisecond))
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/browseragentprotocol/bap/internal/model"
)

func TestSubscribeAndEmitMatches(t *testing.T) {
	bus := New()

	var received []Event
	bus.Subscribe("sess-1", "sub-1", Filter{}, func(ev Event) {
			received = append(received, ev)
	})

	bus.Emit("sess-1", Event{Kind: model.EventPageLoad, PageID: "page-1"})

	assert.Len(t, received, 1)
	assert.Equal(t, model.EventPageLoad, received[0].Kind)
}

func TestEmitFiltersByKind(t *testing.T) {
	bus := New()

	var received []Event
	bus.Subscribe("sess-1", "sub-1", Filter{Kinds: map[model.EventKind]bool{model.EventConsole: true}}, func(ev Event) {
			received = append(received, ev)
	})

	bus.Emit("sess-1", Event{Kind: model.EventPageLoad, PageID: "page-1"})
	bus.Emit("sess-1", Event{Kind: model.EventConsole, PageID: "page-1"})

	assert.Len(t, received, 1)
	assert.Equal(t, model.EventConsole, received[0].Kind)
}

func TestEmitFiltersByPage(t *testing.T) {
	bus := New()

	var received []Event
	bus.Subscribe("sess-1", "sub-1", Filter{PageID: "page-1"}, func(ev Event) {
			received = append(received, ev)
	})

	bus.Emit("sess-1", Event{Kind: model.EventConsole, PageID: "page-2"})
	bus.Emit("sess-1", Event{Kind: model.EventConsole, PageID: "page-1"})

	assert.Len(t, received, 1)
	assert.Equal(t, "page-1", received[0].PageID)
}

func TestEmitDoesNotCrossSessions(t *testing.T) {
	bus := New()

	var received []Event
	bus.Subscribe("sess-1", "sub-1", Filter{}, func(ev Event) {
			received = append(received, ev)
	})

	bus.Emit("sess-2", Event{Kind: model.EventPageLoad, PageID: "page-1"})

	assert.Empty(t, received)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()

	var count int
	bus.Subscribe("sess-1", "sub-1", Filter{}, func(ev Event) { count++ })

	ok := bus.Unsubscribe("sess-1", "sub-1")
	assert.True(t, ok)

	bus.Emit("sess-1", Event{Kind: model.EventPageLoad, PageID: "page-1"})
	assert.Equal(t, 0, count)

	assert.False(t, bus.Unsubscribe("sess-1", "sub-1"))
	assert.False(t, bus.Unsubscribe("sess-unknown", "sub-x"))
}

func TestUnsubscribeAllDropsSession(t *testing.T) {
	bus := New()

	var count int
	bus.Subscribe("sess-1", "sub-1", Filter{}, func(ev Event) { count++ })
	bus.Subscribe("sess-1", "sub-2", Filter{}, func(ev Event) { count++ })

	bus.UnsubscribeAll("sess-1")
	bus.Emit("sess-1", Event{Kind: model.EventPageLoad, PageID: "page-1"})

	assert.Equal(t, 0, count)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bus := New()

	var a, b int
	bus.Subscribe("sess-1", "sub-a", Filter{}, func(ev Event) { a++ })
	bus.Subscribe("sess-1", "sub-b", Filter{}, func(ev Event) { b++ })

	bus.Emit("sess-1", Event{Kind: model.EventDialog, PageID: "page-1"})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

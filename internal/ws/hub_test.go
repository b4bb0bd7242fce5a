package ws

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailpay/internal/domain"
)

func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case msg := <-c.Send:
			var env Envelope
			if json.Unmarshal(msg, &env) == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func events(envs []Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Event)
	}
	return names
}

func TestEmitRoutesByRoom(t *testing.T) {
	hub := NewHub()
	obs := NewClient(RoomOBS)
	plain := NewClient("")
	hub.Register(obs)
	hub.Register(plain)
	assert.Equal(t, 2, hub.ClientCount())

	evt := domain.IntentEvent{Type: domain.EventObserved, ID: "x", Amount: decimal.RequireFromString("10.004321")}
	hub.Emit(evt)
	assert.ElementsMatch(t, []string{"donation", "new_donation"}, events(drain(obs)))
	got := drain(plain)
	require.Len(t, got, 1)
	assert.Equal(t, "new_donation", got[0].Event)
	assert.Equal(t, "10.004321", got[0].Data.Amount.String())

	hub.Emit(domain.IntentEvent{Type: domain.EventConfirmed, ID: "x"})
	assert.Equal(t, []string{"donation_confirmed"}, events(drain(plain)))
}

func TestClosedClientIsUnregistered(t *testing.T) {
	hub := NewHub()
	c := NewClient(RoomOBS)
	hub.Register(c)
	c.Close()
	c.Close()
	assert.Zero(t, hub.ClientCount())

	// emitting after close must not panic on the closed channel
	hub.Emit(domain.IntentEvent{Type: domain.EventObserved})
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	c := &Client{Send: make(chan []byte, 1)}
	hub.Register(c)
	for i := 0; i < 5; i++ {
		hub.Emit(domain.IntentEvent{Type: domain.EventConfirmed})
	}
	assert.Len(t, drain(c), 1)
}

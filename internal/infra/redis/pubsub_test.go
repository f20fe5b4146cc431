package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
)

func TestRelayDeliversPublishedEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	hub := app.NewHub(4)
	events, cancelSub := hub.Subscribe("g1")
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := NewRelay(newClient(mr), "", hub, nil)
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, ready) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not subscribe")
	}

	pub := NewPublisher(newClient(mr), "", nil, nil)
	pub.Broadcast(ctx, domain.Event{
		Type:    domain.EventRoundStatusChanged,
		GameID:  "g1",
		RoundID: "r1",
		Data:    map[string]any{"isOpen": false},
	})

	select {
	case ev := <-events:
		if ev.Type != domain.EventRoundStatusChanged || ev.RoundID != "r1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if open, _ := ev.Data["isOpen"].(bool); open {
			t.Fatalf("expected isOpen false, got %+v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for relayed event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("relay returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}
}

func TestPublisherSwallowsFailures(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	pub := NewPublisher(client, "", nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub.Broadcast(ctx, domain.Event{Type: domain.EventScoreUpdated, GameID: "g1"})
}

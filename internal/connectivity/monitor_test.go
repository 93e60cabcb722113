package connectivity

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMonitor_InitialState(t *testing.T) {
	if NewMonitor(Offline).Online() {
		t.Error("monitor created Offline reports Online")
	}
	if !NewMonitor(Online).Online() {
		t.Error("monitor created Online reports Offline")
	}
}

func TestMonitor_TransitionDelivered(t *testing.T) {
	m := NewMonitor(Offline)
	states, cancel := m.Subscribe()
	defer cancel()

	m.Set(Online)

	select {
	case s := <-states:
		if s != Online {
			t.Errorf("received %v, want Online", s)
		}
	case <-time.After(time.Second):
		t.Fatal("transition not delivered")
	}
}

func TestMonitor_NoSelfTransition(t *testing.T) {
	m := NewMonitor(Offline)
	states, cancel := m.Subscribe()
	defer cancel()

	m.Set(Offline)
	m.Set(Offline)

	select {
	case s := <-states:
		t.Errorf("self-transition emitted event %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_SubscribeCancelTwice(t *testing.T) {
	m := NewMonitor(Offline)
	_, cancel := m.Subscribe()
	cancel()
	cancel() // must not panic or double-close
}

func TestState_String(t *testing.T) {
	if Online.String() != "online" || Offline.String() != "offline" {
		t.Errorf("State strings = %q / %q", Online.String(), Offline.String())
	}
}

func TestProber_AnyResponseMeansOnline(t *testing.T) {
	// A 500 still proves the link is up; only transport errors mean
	// offline.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMonitor(Offline)
	p, err := NewProber(m, ProberConfig{
		HealthURL: srv.URL,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewProber() failed: %v", err)
	}

	p.ProbeOnce(context.Background())
	if !m.Online() {
		t.Error("monitor Offline after a probe that got a response")
	}
}

func TestProber_TransportErrorMeansOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	m := NewMonitor(Online)
	p, err := NewProber(m, ProberConfig{
		HealthURL: srv.URL,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewProber() failed: %v", err)
	}

	p.ProbeOnce(context.Background())
	if m.Online() {
		t.Error("monitor Online after a transport error")
	}
}

func TestProber_EmptyURLRejected(t *testing.T) {
	if _, err := NewProber(NewMonitor(Offline), ProberConfig{}); err == nil {
		t.Error("NewProber() accepted an empty health URL")
	}
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewMonitor(Offline)
	p, err := NewProber(m, ProberConfig{
		HealthURL: srv.URL,
		Interval:  10 * time.Millisecond,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewProber() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	if !m.Online() {
		t.Error("monitor never went Online while the probe target was up")
	}
}

package sip

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func fastClient(srv *httptest.Server, creds *Credentials) *Client {
	c := NewClient(srv.URL, 5*time.Second, creds)
	c.SetProbePolicy(ProbePolicy{
		Pace:        time.Microsecond,
		Initial:     time.Millisecond,
		Max:         2 * time.Millisecond,
		GiveUpAfter: 50 * time.Millisecond,
	})
	return c
}

func testRequest() RunRequest {
	return RunRequest{
		Name:   "site-a-20240301T1400Z",
		Values: url.Values{"log_prefix": {"site-a-20240301T1400Z"}, "submit": {"1"}},
	}
}

func TestSubmitSuccess(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		got = r.PostForm
		w.Write([]byte("<html>" + cancelButton + "</html>"))
	}))
	defer srv.Close()

	c := fastClient(srv, nil)
	if err := c.Submit(context.Background(), testRequest()); err != nil {
		t.Fatalf("Submit returned %v", err)
	}
	if got.Get("log_prefix") != "site-a-20240301T1400Z" {
		t.Errorf("instrument saw log_prefix %q", got.Get("log_prefix"))
	}
}

func TestSubmitSendsBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "geo" || pass != "phys" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(cancelButton))
	}))
	defer srv.Close()

	c := fastClient(srv, &Credentials{User: "geo", Secret: "phys"})
	if err := c.Submit(context.Background(), testRequest()); err != nil {
		t.Fatalf("Submit with credentials returned %v", err)
	}
}

func TestSubmitStillShowsSubmitButton(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(submitButton))
	}))
	defer srv.Close()

	err := fastClient(srv, nil).Submit(context.Background(), testRequest())
	wantTransportError(t, err)
}

func TestSubmitWebUIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>" + webUIError + "</html>"))
	}))
	defer srv.Close()

	err := fastClient(srv, nil).Submit(context.Background(), testRequest())
	wantTransportError(t, err)
}

func TestSubmitNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := fastClient(srv, nil).Submit(context.Background(), testRequest())
	wantTransportError(t, err)
	var te *TransportError
	errors.As(err, &te)
	if te.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", te.Status)
	}
}

func TestSubmitConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	err := fastClient(srv, nil).Submit(context.Background(), testRequest())
	wantTransportError(t, err)
}

func TestReadyRetriesUntilSubmitButtonAppears(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte("<html>measurement running</html>"))
			return
		}
		w.Write([]byte(submitButton))
	}))
	defer srv.Close()

	if err := fastClient(srv, nil).Ready(context.Background()); err != nil {
		t.Fatalf("Ready returned %v", err)
	}
	if calls != 3 {
		t.Errorf("instrument probed %d times, want 3", calls)
	}
}

func TestReadyGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>measurement running</html>"))
	}))
	defer srv.Close()

	err := fastClient(srv, nil).Ready(context.Background())
	wantTransportError(t, err)
}

func TestReadyHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>measurement running</html>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastClient(srv, nil).Ready(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Ready on cancelled context returned %v, want context.Canceled", err)
	}
}

func TestSetProbePolicy(t *testing.T) {
	c := NewClient("192.0.2.1", time.Second, nil)
	if c.probe != DefaultProbePolicy() {
		t.Fatalf("new client probe policy = %+v, want defaults", c.probe)
	}

	c.SetProbePolicy(ProbePolicy{Pace: time.Second, GiveUpAfter: 10 * time.Second})
	if c.probe.Pace != time.Second || c.probe.GiveUpAfter != 10*time.Second {
		t.Errorf("probe policy = %+v, set fields did not take", c.probe)
	}
	def := DefaultProbePolicy()
	if c.probe.Initial != def.Initial || c.probe.Max != def.Max {
		t.Errorf("probe policy = %+v, zero fields should keep their defaults", c.probe)
	}
	if c.probeWait == nil {
		t.Error("probe limiter not rebuilt")
	}
}

func wantTransportError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error is %T (%v), want *TransportError", err, err)
	}
}

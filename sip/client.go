package sip

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"
)

// Transport submits rendered runs to the instrument.  It is an interface so
// the driver can be exercised without a device on the bench.
type Transport interface {
	// Ready blocks until the instrument is able to accept a submission,
	// or fails with a TransportError if it does not become ready in time.
	Ready(ctx context.Context) error

	// Submit POSTs one run and confirms the instrument accepted it.
	Submit(ctx context.Context, req RunRequest) error
}

// ProbePolicy controls how the client polls the instrument for readiness
// before a submission.
type ProbePolicy struct {
	// Pace is the minimum spacing between probe requests.  The device web
	// server is single threaded and slow; hammering it only makes it slower.
	Pace time.Duration

	// Initial is the first backoff interval after a not-ready page.
	Initial time.Duration

	// Max caps the backoff interval.
	Max time.Duration

	// GiveUpAfter bounds total probing per slot; past it the slot fails.
	GiveUpAfter time.Duration
}

// DefaultProbePolicy matches the patience of the device's web server.
func DefaultProbePolicy() ProbePolicy {
	return ProbePolicy{
		Pace:        5 * time.Second,
		Initial:     2 * time.Second,
		Max:         30 * time.Second,
		GiveUpAfter: 2 * time.Minute,
	}
}

// Client talks to the instrument's embedded web server.
type Client struct {
	base  string
	http  *http.Client
	creds *Credentials

	probe     ProbePolicy
	probeWait *rate.Limiter
}

// NewClient returns a client for the instrument at addr, which may be a bare
// host/IP or host:port.  Every HTTP call is bounded by timeout; expiry counts
// as a transport failure.  creds may be nil for firmware that does not
// authenticate.  Probing uses DefaultProbePolicy until SetProbePolicy is
// called.
func NewClient(addr string, timeout time.Duration, creds *Credentials) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/") + "/"
	c := &Client{
		base:  base,
		http:  &http.Client{Timeout: timeout},
		creds: creds,
	}
	c.SetProbePolicy(DefaultProbePolicy())
	return c
}

// SetProbePolicy replaces the readiness probing policy.  Zero fields keep
// their defaults.
func (c *Client) SetProbePolicy(p ProbePolicy) {
	def := DefaultProbePolicy()
	if p.Pace <= 0 {
		p.Pace = def.Pace
	}
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.GiveUpAfter <= 0 {
		p.GiveUpAfter = def.GiveUpAfter
	}
	c.probe = p
	c.probeWait = rate.NewLimiter(rate.Every(p.Pace), 1)
}

// Ready polls the form page until the instrument shows its submit button.
// Right after a run the device serves a page without it, so probing retries
// with exponential backoff before giving up on the slot.
func (c *Client) Ready(ctx context.Context) error {
	op := func() error {
		if err := c.probeWait.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		body, err := c.get(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(body, submitButton) {
			return errors.New("no submit button on device, it may still be busy")
		}
		return nil
	}
	bo := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     c.probe.Initial,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         c.probe.Max,
		MaxElapsedTime:      c.probe.GiveUpAfter,
		Clock:               backoff.SystemClock,
	}, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{URL: c.base, Reason: "instrument not ready", Err: err}
	}
	return nil
}

// Submit POSTs one run to the instrument and interprets the returned page.
func (c *Client) Submit(ctx context.Context, r RunRequest) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, strings.NewReader(r.Values.Encode()))
	if err != nil {
		return &TransportError{URL: c.base, Reason: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{URL: c.base, Reason: "could not connect to device, is the IP address correct? (it changes at device reboot)", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{URL: c.base, Reason: "reading response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{URL: c.base, Status: resp.StatusCode, Reason: "got error code from device"}
	}
	return checkPage(c.base, string(body))
}

func (c *Client) get(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base, nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(resp.Status)
	}
	return string(body), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.creds != nil {
		req.SetBasicAuth(c.creds.User, c.creds.Secret)
	}
}

// checkPage decides whether a submission took.  The firmware returns 200 for
// everything; the cancel button is the only success signal it gives us.
func checkPage(url, body string) error {
	switch {
	case strings.Contains(body, cancelButton):
		return nil
	case strings.Contains(body, webUIError):
		return &TransportError{URL: url, Reason: "instrument rejected the run parameters"}
	case strings.Contains(body, submitButton):
		return &TransportError{URL: url, Reason: "instrument still shows the submit button, submission did not take"}
	}
	return &TransportError{URL: url, Reason: "unrecognized page in response"}
}

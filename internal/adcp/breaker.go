package adcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/adcp/internal/httputil"
	"github.com/banshee-data/adcp/internal/timeutil"
)

// BreakSignaler asserts a hardware break on the instrument's serial line.
// Failures are best effort: the handshake's prompt retries compensate.
type BreakSignaler interface {
	AssertBreak(ctx context.Context, d time.Duration) error
}

// LineBreak holds the transmit line of a directly attached port low.
type LineBreak struct {
	Port interface {
		Break(d time.Duration) error
	}
}

func (b LineBreak) AssertBreak(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Port.Break(d)
}

// RelayBreak toggles a GPIO on a terminal server over HTTP for instruments
// reached through a network serial bridge. The pin is released, held for the
// break duration, then asserted again.
type RelayBreak struct {
	URL    string
	Client httputil.HTTPClient
	Clock  timeutil.Clock
}

// NewRelayBreak returns a RelayBreak posting to url with a default client.
func NewRelayBreak(url string) *RelayBreak {
	return &RelayBreak{
		URL:    url,
		Client: httputil.NewStandardClient(nil),
		Clock:  timeutil.RealClock{},
	}
}

func relayRequest(state string) string {
	return `<rci_request version="1.1"><set_state><gpio><pin4>` + state + `</pin4></gpio></set_state></rci_request>`
}

// AssertBreak releases the pin for d. Once released, the pin is asserted
// again even if ctx ends during the break.
func (b *RelayBreak) AssertBreak(ctx context.Context, d time.Duration) error {
	if err := b.post(ctx, "unasserted"); err != nil {
		return err
	}
	clock := b.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	clock.Sleep(d)
	return b.post(context.WithoutCancel(ctx), "asserted")
}

func (b *RelayBreak) post(ctx context.Context, state string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, strings.NewReader(relayRequest(state)))
	if err != nil {
		return fmt.Errorf("relay %s: %w", state, err)
	}
	req.Header.Set("Content-Type", "text/xml")

	client := b.Client
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", state, err)
	}
	if err := httputil.CheckStatus(resp); err != nil {
		return fmt.Errorf("relay %s: %w", state, err)
	}
	diagf("relay pin4 %s", state)
	return nil
}

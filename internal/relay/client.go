package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	"chatique/internal/domain"
)

// subscribeBuffer bounds inbound delivery between the poll loop and the
// consumer.
const subscribeBuffer = 64

// Client talks to the relay's event endpoints.
type Client struct {
	base string
	self domain.UserID
	http *http.Client
	log  *zap.Logger
}

// NewClient builds a relay client for the given user. A nil httpClient
// falls back to http.DefaultClient.
func NewClient(base string, self domain.UserID, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, self: self, http: httpClient, log: log}
}

// Send publishes one envelope, fire-and-forget from the caller's view.
func (c *Client) Send(ctx context.Context, env domain.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay post /events: %s", resp.Status)
	}
	return nil
}

// feedPage is the long-poll response: events past the requested cursor and
// the cursor to resume from.
type feedPage struct {
	Cursor int64             `json:"cursor"`
	Events []domain.Envelope `json:"events"`
}

// Subscribe starts the long-poll loop and yields inbound envelopes until
// ctx is cancelled. Transport errors are retried with exponential backoff;
// the channel is closed when the loop exits.
func (c *Client) Subscribe(ctx context.Context) (<-chan domain.Envelope, error) {
	out := make(chan domain.Envelope, subscribeBuffer)
	go func() {
		defer close(out)

		var cursor int64
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0 // retry forever; only ctx stops us
		for {
			page, err := c.poll(ctx, cursor)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				wait := bo.NextBackOff()
				c.log.Warn("relay: poll failed, backing off",
					zap.Duration("wait", wait), zap.Error(err))
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
				continue
			}
			bo.Reset()
			for _, env := range page.Events {
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
			cursor = page.Cursor
		}
	}()
	return out, nil
}

func (c *Client) poll(ctx context.Context, cursor int64) (feedPage, error) {
	q := url.Values{}
	q.Set("user", strconv.FormatInt(int64(c.self), 10))
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events?"+q.Encode(), nil)
	if err != nil {
		return feedPage{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return feedPage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return feedPage{}, fmt.Errorf("relay get /events: %s", resp.Status)
	}
	var page feedPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return feedPage{}, err
	}
	return page, nil
}

var _ domain.EventStream = (*Client)(nil)

// Package cloudclient is the HTTP client of the cloud ingest service, used
// by the producer workers to forward sensors and deliver batch payloads, and
// by the verifier to read the id→hash map back.
//
// Write calls run through a circuit breaker: once the cloud has failed
// repeatedly, further calls fail fast and the workers fall through to the
// next tick instead of hammering a down endpoint. Breaker rejections are the
// same transient failure class as a network error and are never persisted.
package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sigillo-iot/sigillo/pkg/models"
)

// apiKeyHeader carries the caller's API key on every request.
const apiKeyHeader = "X-API-Key"

// breakerName identifies the delivery breaker in state-change logs.
const breakerName = "cloud-delivery"

// breakerConsecutiveFailures opens the breaker after this many failures in a
// row.
const breakerConsecutiveFailures = 5

var (
	// ErrNotConfirmed is returned when the cloud answered 200 but did not
	// set conferma_ricezione; the local ack must not flip.
	ErrNotConfirmed = errors.New("cloudclient: receipt not confirmed")

	// ErrUnexpectedStatus is returned on a non-200 response.
	ErrUnexpectedStatus = errors.New("cloudclient: unexpected status")
)

// Confirmation is the cloud's receipt for a write: the producer flips its
// local ack only on Confirmed=true.
type Confirmation struct {
	Confirmed bool   `json:"conferma_ricezione"`
	SensorID  string `json:"id_sensore,omitempty"`
	BatchID   int64  `json:"id_batch,omitempty"`
	Message   string `json:"messaggio,omitempty"`
}

// Client talks to one cloud ingest service with one API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.TwoStepCircuitBreaker
	log     *slog.Logger
}

// New builds a client for baseURL. timeout bounds every request.
func New(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name: breakerName,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewTwoStepCircuitBreaker(settings),
		log:     log,
	}
}

// RegisterSensor forwards one sensor registration. A nil error means the
// cloud confirmed persistence and the local ack may flip.
func (c *Client) RegisterSensor(ctx context.Context, sensor models.Sensor) error {
	conf, err := c.postConfirmed(ctx, "/sensori", sensor)
	if err != nil {
		return fmt.Errorf("register sensor %s: %w", sensor.ID, err)
	}

	c.log.InfoContext(ctx, "sensor confirmed by cloud", "sensor", conf.SensorID)

	return nil
}

// DeliverBatch pushes one already canonicalized payload document. A nil
// error means the cloud confirmed persistence of the full payload.
func (c *Client) DeliverBatch(ctx context.Context, batchID int64, payloadJSON string) error {
	conf, err := c.postConfirmed(ctx, "/batch", json.RawMessage(payloadJSON))
	if err != nil {
		return fmt.Errorf("deliver batch %d: %w", batchID, err)
	}

	c.log.InfoContext(ctx, "batch confirmed by cloud", "batch", conf.BatchID)

	return nil
}

// IDHashMap fetches the leaf digests of one batch keyed by decimal leaf id.
func (c *Client) IDHashMap(ctx context.Context, batchID int64) (map[string]string, error) {
	url := c.baseURL + "/batch/mappa-id-hash?id=" + strconv.FormatInt(batchID, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("cloudclient: build request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudclient: fetch id-hash map for batch %d: %w", batchID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d fetching id-hash map for batch %d", ErrUnexpectedStatus, resp.StatusCode, batchID)
	}

	var m map[string]string

	err = json.NewDecoder(resp.Body).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("cloudclient: decode id-hash map: %w", err)
	}

	return m, nil
}

// postConfirmed POSTs body through the circuit breaker and requires an
// explicit confirmation in the response.
func (c *Client) postConfirmed(ctx context.Context, path string, body any) (Confirmation, error) {
	done, err := c.breaker.Allow()
	if err != nil {
		return Confirmation{}, fmt.Errorf("cloudclient: %w", err)
	}

	conf, err := c.post(ctx, path, body)

	done(err == nil)

	return conf, err
}

func (c *Client) post(ctx context.Context, path string, body any) (Confirmation, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Confirmation{}, fmt.Errorf("cloudclient: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Confirmation{}, fmt.Errorf("cloudclient: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Confirmation{}, fmt.Errorf("cloudclient: post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Confirmation{}, fmt.Errorf("cloudclient: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Confirmation{}, fmt.Errorf("%w: %d on %s", ErrUnexpectedStatus, resp.StatusCode, path)
	}

	var conf Confirmation

	err = json.Unmarshal(payload, &conf)
	if err != nil {
		return Confirmation{}, fmt.Errorf("cloudclient: decode confirmation: %w", err)
	}

	// A malformed or negative receipt is a delivery failure; retry next tick.
	if !conf.Confirmed {
		return Confirmation{}, ErrNotConfirmed
	}

	return conf, nil
}

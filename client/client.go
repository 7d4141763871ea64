// Package client is a Go handle to a remote bench served by package server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/inference-sim/simbench/server"
	"github.com/inference-sim/simbench/sim"
)

const unixScheme = "unix:"

// ServerError is a failure reported by the server.
type ServerError struct {
	Code    server.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%v: %s", e.Code, e.Message)
}

// EventKey identifies an event scheduled with a key; it can be cancelled.
type EventKey struct {
	id uint64
}

// Simulation is a handle to the simulation running on a server.
type Simulation struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a handle to the server at address, either "host:port" for
// TCP or "unix:/path/to/socket" (also "unix:///path") for a local socket.
func New(address string) (*Simulation, error) {
	address = strings.TrimSpace(address)
	if path, ok := strings.CutPrefix(address, unixScheme); ok {
		path = strings.TrimPrefix(path, "//")
		if path == "" {
			return nil, fmt.Errorf("empty unix socket path in %q", address)
		}
		dialer := &net.Dialer{}
		transport := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", path)
			},
		}
		return &Simulation{
			baseURL:    "http://localhost",
			httpClient: &http.Client{Transport: transport},
		}, nil
	}
	if address == "" {
		return nil, fmt.Errorf("empty server address")
	}
	return NewWithHTTPClient("http://"+address, http.DefaultClient), nil
}

// NewWithHTTPClient creates a handle to the server at baseURL using hc.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Simulation {
	return &Simulation{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// Close releases idle connections.
func (c *Simulation) Close() {
	c.httpClient.CloseIdleConnections()
}

func call[Res any](ctx context.Context, c *Simulation, method string, req any) (Res, error) {
	var reply server.Reply[Res]
	body, err := cbor.Marshal(req)
	if err != nil {
		return reply.Result, fmt.Errorf("%s: encode request: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return reply.Result, err
	}
	httpReq.Header.Set("Content-Type", server.ContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return reply.Result, fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply.Result, fmt.Errorf("%s: read reply: %w", method, err)
	}
	if resp.Header.Get("Content-Type") != server.ContentType {
		return reply.Result, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := cbor.Unmarshal(data, &reply); err != nil {
		return reply.Result, fmt.Errorf("%s: decode reply: %w", method, err)
	}
	if reply.Error != nil {
		return reply.Result, &ServerError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	return reply.Result, nil
}

func encodeEvent(event any) (cbor.RawMessage, error) {
	if event == nil {
		return nil, nil
	}
	return cbor.Marshal(event)
}

// Start builds a new simulation on the server with cfg as the bench
// configuration, replacing any previous one. It returns the session id.
func (c *Simulation) Start(ctx context.Context, cfg any) (string, error) {
	raw, err := encodeEvent(cfg)
	if err != nil {
		return "", err
	}
	res, err := call[server.InitReply](ctx, c, "Init", server.InitRequest{Cfg: raw})
	return res.Session, err
}

// Terminate discards the simulation on the server.
func (c *Simulation) Terminate(ctx context.Context) error {
	_, err := call[server.Empty](ctx, c, "Terminate", server.Empty{})
	return err
}

// Halt requests the simulation to stop at its next attempt to advance time.
func (c *Simulation) Halt(ctx context.Context) error {
	_, err := call[server.Empty](ctx, c, "Halt", server.Empty{})
	return err
}

// Time returns the current simulation time.
func (c *Simulation) Time(ctx context.Context) (sim.MonotonicTime, error) {
	res, err := call[server.TimeReply](ctx, c, "Time", server.Empty{})
	return res.Time.Time(), err
}

// Step advances to the next scheduled time and returns it.
func (c *Simulation) Step(ctx context.Context) (sim.MonotonicTime, error) {
	res, err := call[server.TimeReply](ctx, c, "Step", server.Empty{})
	return res.Time.Time(), err
}

// StepUnbounded processes scheduled events until none remain.
func (c *Simulation) StepUnbounded(ctx context.Context) (sim.MonotonicTime, error) {
	res, err := call[server.TimeReply](ctx, c, "StepUnbounded", server.Empty{})
	return res.Time.Time(), err
}

// StepUntil advances simulation time to deadline.
func (c *Simulation) StepUntil(ctx context.Context, deadline sim.MonotonicTime) (sim.MonotonicTime, error) {
	ts := deadline.Timestamp()
	res, err := call[server.TimeReply](ctx, c, "StepUntil", server.StepUntilRequest{Deadline: &ts})
	return res.Time.Time(), err
}

// StepFor advances simulation time by d.
func (c *Simulation) StepFor(ctx context.Context, d time.Duration) (sim.MonotonicTime, error) {
	dur := sim.DurationOf(d)
	res, err := call[server.TimeReply](ctx, c, "StepUntil", server.StepUntilRequest{Duration: &dur})
	return res.Time.Time(), err
}

// ScheduleEvent schedules event on source at deadline. The returned key is
// nil unless withKey is set.
func (c *Simulation) ScheduleEvent(ctx context.Context, deadline sim.MonotonicTime, source string, event any, withKey bool) (*EventKey, error) {
	ts := deadline.Timestamp()
	return c.schedule(ctx, server.ScheduleEventRequest{Source: source, Deadline: &ts, WithKey: withKey}, event)
}

// ScheduleEventAfter schedules event on source after delay.
func (c *Simulation) ScheduleEventAfter(ctx context.Context, delay time.Duration, source string, event any, withKey bool) (*EventKey, error) {
	dur := sim.DurationOf(delay)
	return c.schedule(ctx, server.ScheduleEventRequest{Source: source, Duration: &dur, WithKey: withKey}, event)
}

func (c *Simulation) schedule(ctx context.Context, req server.ScheduleEventRequest, event any) (*EventKey, error) {
	raw, err := encodeEvent(event)
	if err != nil {
		return nil, err
	}
	req.Event = raw
	res, err := call[server.ScheduleEventReply](ctx, c, "ScheduleEvent", req)
	if err != nil || res.Key == nil {
		return nil, err
	}
	return &EventKey{id: *res.Key}, nil
}

// CancelEvent cancels a keyed event that has not fired yet.
func (c *Simulation) CancelEvent(ctx context.Context, key *EventKey) error {
	_, err := call[server.Empty](ctx, c, "CancelEvent", server.CancelEventRequest{Key: key.id})
	return err
}

// ProcessEvent delivers event on source at the current time. A nil event
// is sent for unit inputs.
func (c *Simulation) ProcessEvent(ctx context.Context, source string, event any) error {
	raw, err := encodeEvent(event)
	if err != nil {
		return err
	}
	_, err = call[server.Empty](ctx, c, "ProcessEvent", server.ProcessEventRequest{Source: source, Event: raw})
	return err
}

// ReadEvents drains sink and decodes each event as T.
func ReadEvents[T any](ctx context.Context, c *Simulation, sink string) ([]T, error) {
	res, err := call[server.ReadEventsReply](ctx, c, "ReadEvents", server.SinkRequest{Sink: sink})
	if err != nil {
		return nil, err
	}
	events := make([]T, 0, len(res.Events))
	for i, raw := range res.Events {
		var ev T
		if err := cbor.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("ReadEvents: event %d of %q: %w", i, sink, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// AwaitEvent waits up to timeout for the next event on sink and decodes it
// as T. A zero timeout waits until ctx is done. The wait does not block
// concurrent requests on the same server.
func AwaitEvent[T any](ctx context.Context, c *Simulation, sink string, timeout time.Duration) (T, error) {
	var ev T
	req := server.AwaitEventRequest{Sink: sink, Timeout: sim.DurationOf(timeout)}
	res, err := call[server.AwaitEventReply](ctx, c, "AwaitEvent", req)
	if err != nil {
		return ev, err
	}
	if err := cbor.Unmarshal(res.Event, &ev); err != nil {
		return ev, fmt.Errorf("AwaitEvent: event of %q: %w", sink, err)
	}
	return ev, nil
}

// OpenSink resumes recording on sink.
func (c *Simulation) OpenSink(ctx context.Context, sink string) error {
	_, err := call[server.Empty](ctx, c, "OpenSink", server.SinkRequest{Sink: sink})
	return err
}

// CloseSink stops recording on sink; events sent meanwhile are lost.
func (c *Simulation) CloseSink(ctx context.Context, sink string) error {
	_, err := call[server.Empty](ctx, c, "CloseSink", server.SinkRequest{Sink: sink})
	return err
}

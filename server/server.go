// Package server exposes a bench over a CBOR RPC interface. Each request is
// an HTTP POST to /<Method> whose body and response are CBOR encoded. The
// same handler is served over TCP or over a unix stream socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simbench/sim"
)

// ContentType is the media type of request and response bodies.
const ContentType = "application/cbor"

const maxRequestSize = 16 << 20

// Server holds at most one simulation at a time, replaced by every
// successful Init request.
type Server struct {
	bench Bench

	// stepMu serializes requests that drive or reshape the simulation.
	// Time, Halt and sink requests do not take it so they stay responsive
	// while a step is in progress.
	stepMu sync.Mutex

	mu      sync.RWMutex
	session *session
}

type session struct {
	id       uuid.UUID
	sim      *sim.Simulation
	registry *sim.EndpointRegistry
	keys     map[uint64]*sim.ActionKey // guarded by Server.stepMu
}

// New returns a server that builds simulations with bench.
func New(bench Bench) *Server {
	return &Server{bench: bench}
}

// Handler returns the RPC handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /Init", rpc(s.init))
	mux.Handle("POST /Terminate", rpc(s.terminate))
	mux.Handle("POST /Halt", rpc(s.halt))
	mux.Handle("POST /Time", rpc(s.time))
	mux.Handle("POST /Step", rpc(s.step))
	mux.Handle("POST /StepUnbounded", rpc(s.stepUnbounded))
	mux.Handle("POST /StepUntil", rpc(s.stepUntil))
	mux.Handle("POST /ScheduleEvent", rpc(s.scheduleEvent))
	mux.Handle("POST /CancelEvent", rpc(s.cancelEvent))
	mux.Handle("POST /ProcessEvent", rpc(s.processEvent))
	mux.Handle("POST /ReadEvents", rpc(s.readEvents))
	mux.Handle("POST /AwaitEvent", rpcContext(s.awaitEvent))
	mux.Handle("POST /OpenSink", rpc(s.openSink))
	mux.Handle("POST /CloseSink", rpc(s.closeSink))
	return mux
}

// rpc decodes the request body into Req, calls fn and encodes its result in
// a Reply envelope.
func rpc[Req, Res any](fn func(*Req) (Res, error)) http.HandlerFunc {
	return rpcContext(func(_ context.Context, req *Req) (Res, error) { return fn(req) })
}

// rpcContext is rpc for handlers that block and must observe the request
// context.
func rpcContext[Req, Res any](fn func(context.Context, *Req) (Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			req    Req
			reply  Reply[Res]
			status = http.StatusOK
		)
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
		if err == nil && len(body) > 0 {
			err = cbor.Unmarshal(body, &req)
		}
		if err != nil {
			status = http.StatusBadRequest
			reply.Error = &ErrorReply{Code: CodeInvalidMessage, Message: err.Error()}
		} else {
			res, err := fn(r.Context(), &req)
			reply.Result = res
			reply.Error = toErrorReply(err)
			if err != nil {
				logrus.Warnf("%s: %v", r.URL.Path, err)
			}
		}
		data, err := cbor.Marshal(reply)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}
}

func (s *Server) current() (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, errNotStarted
	}
	return s.session, nil
}

func (s *Server) setSession(sess *session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// build calls the bench factory, turning a panic into a request error.
func (s *Server) build(cfg []byte) (sess *session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errorf(CodeBenchPanic, "bench panicked: %v", r)
		}
	}()
	simu, registry, err := s.bench(cfg)
	if err != nil {
		return nil, err
	}
	return &session{
		id:       uuid.New(),
		sim:      simu,
		registry: registry,
		keys:     make(map[uint64]*sim.ActionKey),
	}, nil
}

func (s *Server) init(req *InitRequest) (InitReply, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sess, err := s.build(req.Cfg)
	if err != nil {
		return InitReply{}, fmt.Errorf("bench initialization failed: %w", err)
	}
	s.setSession(sess)
	logrus.Infof("session %s started with sources %v and sinks %v",
		sess.id, sess.registry.SourceNames(), sess.registry.SinkNames())
	return InitReply{Session: sess.id.String(), Time: sess.sim.Time().Timestamp()}, nil
}

func (s *Server) terminate(*Empty) (Empty, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sess, err := s.current()
	if err != nil {
		return Empty{}, err
	}
	s.setSession(nil)
	logrus.Infof("session %s terminated at %v", sess.id, sess.sim.Time())
	return Empty{}, nil
}

func (s *Server) halt(*Empty) (Empty, error) {
	sess, err := s.current()
	if err != nil {
		return Empty{}, err
	}
	sess.sim.Halt()
	return Empty{}, nil
}

// haltAll halts the current simulation, if any, so that in-flight stepping
// requests return before shutdown.
func (s *Server) haltAll() {
	if sess, err := s.current(); err == nil {
		sess.sim.Halt()
	}
}

func (s *Server) time(*Empty) (TimeReply, error) {
	sess, err := s.current()
	if err != nil {
		return TimeReply{}, err
	}
	return TimeReply{Time: sess.sim.Time().Timestamp()}, nil
}

// stepping runs fn on the current simulation under stepMu and reports the
// simulation time afterwards.
func (s *Server) stepping(fn func(*session) error) (TimeReply, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sess, err := s.current()
	if err != nil {
		return TimeReply{}, err
	}
	if err := fn(sess); err != nil {
		return TimeReply{}, err
	}
	return TimeReply{Time: sess.sim.Time().Timestamp()}, nil
}

func (s *Server) step(*Empty) (TimeReply, error) {
	return s.stepping(func(sess *session) error { return sess.sim.Step() })
}

func (s *Server) stepUnbounded(*Empty) (TimeReply, error) {
	return s.stepping(func(sess *session) error { return sess.sim.StepUnbounded() })
}

func (s *Server) stepUntil(req *StepUntilRequest) (TimeReply, error) {
	return s.stepping(func(sess *session) error {
		deadline, err := resolveDeadline(sess.sim.Time(), req.Deadline, req.Duration)
		if err != nil {
			return err
		}
		return sess.sim.StepUntil(deadline)
	})
}

func resolveDeadline(now sim.MonotonicTime, deadline *sim.Timestamp, duration *sim.Duration) (sim.MonotonicTime, error) {
	switch {
	case deadline != nil && duration != nil:
		return 0, errorf(CodeInvalidMessage, "deadline and duration are mutually exclusive")
	case deadline != nil:
		if !deadline.InRange() {
			return 0, errorf(CodeInvalidDeadline, "deadline %ds+%dns is out of range", deadline.Seconds, deadline.Nanos)
		}
		return deadline.Time(), nil
	case duration != nil:
		if !duration.InRange() {
			return 0, errorf(CodeInvalidDeadline, "duration %ds+%dns is out of range", duration.Secs, duration.Nanos)
		}
		t, ok := now.CheckedAdd(duration.Std())
		if !ok {
			return 0, errorf(CodeInvalidDeadline, "duration %v from %v is past the end of time", duration.Std(), now)
		}
		return t, nil
	}
	return 0, errorf(CodeMissingArgument, "missing deadline or duration")
}

func (s *Server) scheduleEvent(req *ScheduleEventRequest) (ScheduleEventReply, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sess, err := s.current()
	if err != nil {
		return ScheduleEventReply{}, err
	}
	src, err := sess.registry.Source(req.Source)
	if err != nil {
		return ScheduleEventReply{}, err
	}
	deadline, err := resolveDeadline(sess.sim.Time(), req.Deadline, req.Duration)
	if err != nil {
		return ScheduleEventReply{}, err
	}
	key, err := sess.sim.ScheduleEvent(deadline, src, req.Event, req.WithKey)
	if err != nil {
		return ScheduleEventReply{}, err
	}
	if key == nil {
		return ScheduleEventReply{}, nil
	}
	id := key.ID()
	sess.keys[id] = key
	return ScheduleEventReply{Key: &id}, nil
}

func (s *Server) cancelEvent(req *CancelEventRequest) (Empty, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sess, err := s.current()
	if err != nil {
		return Empty{}, err
	}
	key, ok := sess.keys[req.Key]
	if !ok {
		return Empty{}, errorf(CodeInvalidKey, "unknown event key %d", req.Key)
	}
	key.Cancel()
	delete(sess.keys, req.Key)
	return Empty{}, nil
}

func (s *Server) processEvent(req *ProcessEventRequest) (Empty, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sess, err := s.current()
	if err != nil {
		return Empty{}, err
	}
	src, err := sess.registry.Source(req.Source)
	if err != nil {
		return Empty{}, err
	}
	return Empty{}, sess.sim.ProcessEvent(src, req.Event)
}

func (s *Server) sink(name string) (sim.Sink, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return sess.registry.Sink(name)
}

func (s *Server) readEvents(req *SinkRequest) (ReadEventsReply, error) {
	sink, err := s.sink(req.Sink)
	if err != nil {
		return ReadEventsReply{}, err
	}
	events, err := sink.Collect()
	if err != nil {
		return ReadEventsReply{}, err
	}
	reply := ReadEventsReply{Events: make([]cbor.RawMessage, 0, len(events))}
	for _, ev := range events {
		reply.Events = append(reply.Events, ev)
	}
	return reply, nil
}

// awaitEvent blocks without holding stepMu so that a concurrent step can
// produce the awaited event.
func (s *Server) awaitEvent(ctx context.Context, req *AwaitEventRequest) (AwaitEventReply, error) {
	sink, err := s.sink(req.Sink)
	if err != nil {
		return AwaitEventReply{}, err
	}
	if !req.Timeout.InRange() {
		return AwaitEventReply{}, errorf(CodeInvalidMessage, "timeout %ds+%dns is out of range", req.Timeout.Secs, req.Timeout.Nanos)
	}
	if !req.Timeout.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout.Std())
		defer cancel()
	}
	event, err := sink.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return AwaitEventReply{}, errorf(CodeTimeout, "no event on sink %q within %v", req.Sink, req.Timeout.Std())
	}
	if err != nil {
		return AwaitEventReply{}, err
	}
	return AwaitEventReply{Event: event}, nil
}

func (s *Server) openSink(req *SinkRequest) (Empty, error) {
	sink, err := s.sink(req.Sink)
	if err != nil {
		return Empty{}, err
	}
	sink.Open()
	return Empty{}, nil
}

func (s *Server) closeSink(req *SinkRequest) (Empty, error) {
	sink, err := s.sink(req.Sink)
	if err != nil {
		return Empty{}, err
	}
	sink.Close()
	return Empty{}, nil
}

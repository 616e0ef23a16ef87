package watch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	apiwatch "k8s.io/apimachinery/pkg/watch"

	"github.com/lexfrei/geo-dns-controller/internal/backoff"
	"github.com/lexfrei/geo-dns-controller/internal/config"
	"github.com/lexfrei/geo-dns-controller/internal/metrics"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Reconnect reasons reported to metrics.
const (
	ReasonSubscribeFailed = "subscribe_failed"
	ReasonClosed          = "closed"
	ReasonError           = "error"
	ReasonExpired         = "expired"
)

// ErrNotStreamed is returned by Ready until the first stream has opened.
var ErrNotStreamed = errors.New("ingress watch has not started streaming")

// Handler processes a single watch event.
type Handler interface {
	Handle(ctx context.Context, event apiwatch.Event) error
}

// Session is a reconnecting ingress watch.
type Session struct {
	subscriber     Subscriber
	handler        Handler
	labelSelector  string
	timeoutSeconds int64
	reconnectDelay time.Duration

	sleep   backoff.SleepFunc
	metrics metrics.Collector
	logger  *slog.Logger

	state           atomic.Int32
	streamed        atomic.Bool
	resourceVersion string
}

// Option configures a Session.
type Option func(*Session)

// WithSleep replaces the function used to wait between connections.
func WithSleep(sleep backoff.SleepFunc) Option {
	return func(s *Session) {
		s.sleep = sleep
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(s *Session) {
		s.metrics = collector
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a Session in the Disconnected state.
func NewSession(cfg *config.Config, subscriber Subscriber, handler Handler, opts ...Option) *Session {
	session := &Session{
		subscriber:     subscriber,
		handler:        handler,
		labelSelector:  cfg.LabelSelector,
		timeoutSeconds: int64(cfg.WatchTimeout / time.Second),
		reconnectDelay: cfg.ReconnectDelay,
		sleep:          backoff.Sleep,
		metrics:        metrics.NewNoopCollector(),
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(session)
	}

	session.logger = session.logger.With("component", "watch-session")

	return session
}

// State returns the current state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Ready is a healthz checker that passes once a stream has been opened.
func (s *Session) Ready(_ *http.Request) error {
	if !s.streamed.Load() {
		return errors.Wrapf(ErrNotStreamed, "watch is %s", s.State())
	}

	return nil
}

func (s *Session) setState(ctx context.Context, state State) {
	s.state.Store(int32(state))
	s.metrics.RecordWatchState(ctx, state.String())
}

// Run watches until ctx is cancelled. It returns nil on cancellation; stream
// failures never end it.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("starting ingress watch",
		"labelSelector", s.labelSelector,
		"reconnectDelay", s.reconnectDelay,
	)

	for {
		if ctx.Err() != nil {
			return s.close(ctx)
		}

		reason := s.connect(ctx)

		if ctx.Err() != nil {
			return s.close(ctx)
		}

		s.setState(ctx, StateDisconnected)
		s.metrics.RecordWatchReconnect(ctx, reason)
		s.logger.Info("ingress watch ended, reconnecting",
			"reason", reason,
			"delay", s.reconnectDelay,
			"resourceVersion", s.resourceVersion,
		)

		if err := s.sleep(ctx, s.reconnectDelay); err != nil {
			return s.close(ctx)
		}
	}
}

func (s *Session) close(ctx context.Context) error {
	s.setState(context.WithoutCancel(ctx), StateClosing)
	s.logger.Info("ingress watch stopped")

	return nil
}

// connect opens one stream and consumes it until it ends. It returns the
// reason the stream ended.
func (s *Session) connect(ctx context.Context) string {
	s.setState(ctx, StateConnecting)

	stream, err := s.subscriber.Subscribe(ctx, Options{
		LabelSelector:   s.labelSelector,
		ResourceVersion: s.resourceVersion,
		TimeoutSeconds:  s.timeoutSeconds,
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to subscribe to ingresses", "error", err)
		}

		if isExpired(err) {
			s.resourceVersion = ""

			return ReasonExpired
		}

		return ReasonSubscribeFailed
	}

	defer stream.Stop()

	s.setState(ctx, StateStreaming)
	s.streamed.Store(true)
	s.logger.Debug("ingress watch streaming", "resourceVersion", s.resourceVersion)

	return s.consume(ctx, stream)
}

func (s *Session) consume(ctx context.Context, stream apiwatch.Interface) string {
	for {
		select {
		case <-ctx.Done():
			return ReasonClosed
		case event, ok := <-stream.ResultChan():
			if !ok {
				return ReasonClosed
			}

			switch event.Type {
			case apiwatch.Error:
				return s.streamError(event)
			case apiwatch.Bookmark:
				s.remember(event)
			case apiwatch.Added, apiwatch.Modified, apiwatch.Deleted:
				s.dispatch(ctx, event)
				s.remember(event)
			default:
				s.logger.Debug("ignoring unknown watch event", "type", event.Type)
			}
		}
	}
}

func (s *Session) streamError(event apiwatch.Event) string {
	err := apierrors.FromObject(event.Object)

	if isExpired(err) {
		s.logger.Info("resource version expired, resubscribing from current state",
			"resourceVersion", s.resourceVersion,
		)
		s.resourceVersion = ""

		return ReasonExpired
	}

	s.logger.Warn("ingress watch returned an error", "error", err)

	return ReasonError
}

func (s *Session) remember(event apiwatch.Event) {
	if event.Object == nil {
		return
	}

	accessor, err := meta.Accessor(event.Object)
	if err != nil {
		return
	}

	if rv := accessor.GetResourceVersion(); rv != "" {
		s.resourceVersion = rv
	}
}

// dispatch hands event to the handler, containing any failure.
func (s *Session) dispatch(ctx context.Context, event apiwatch.Event) {
	handleCtx := context.WithoutCancel(ctx)

	defer func() {
		if recovered := recover(); recovered != nil {
			s.metrics.RecordWatchEvent(handleCtx, string(event.Type), metrics.OutcomeFailed)
			s.logger.Error("panic while handling ingress event",
				"type", event.Type,
				"panic", recovered,
			)
		}
	}()

	if err := s.handler.Handle(handleCtx, event); err != nil {
		s.logger.Error("failed to handle ingress event", "type", event.Type, "error", err)
	}
}

func isExpired(err error) bool {
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}

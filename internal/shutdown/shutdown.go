// Package shutdown turns SIGINT/SIGTERM into crawl cancellation and runs
// registered cleanup once the crawl has finalized.
package shutdown

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/logger"
)

// Callback is a cleanup step run during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler cancels its context on the first signal and runs callbacks in
// reverse registration order when Shutdown is called.
type Handler struct {
	mu    sync.Mutex
	names []string
	funcs []Callback

	ctx    context.Context
	cancel context.CancelFunc

	timeout  time.Duration
	log      *logger.Logger
	sigChan  chan os.Signal
	signaled atomic.Bool
	shutting atomic.Bool
	done     chan struct{}
	err      error
}

// New creates a handler and starts listening for signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = DefaultConfig().Signals
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		ctx:     ctx,
		cancel:  cancel,
		timeout: cfg.Timeout,
		log:     cfg.Logger.WithComponent("shutdown"),
		sigChan: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	go h.listen()

	return h
}

func (h *Handler) listen() {
	select {
	case sig := <-h.sigChan:
		h.signaled.Store(true)
		h.log.WithFields(map[string]interface{}{"signal": sig.String()}).
			Warn("Interrupt received, stopping after the current page")
		h.cancel()
	case <-h.done:
	}
}

// Context is cancelled on the first signal or when Shutdown starts.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether a signal cancelled the context.
func (h *Handler) Interrupted() bool {
	return h.signaled.Load()
}

// Register adds a named cleanup callback.
func (h *Handler) Register(name string, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.names = append(h.names, name)
	h.funcs = append(h.funcs, cb)
}

// RegisterCloser registers c.Close as a cleanup callback.
func (h *Handler) RegisterCloser(name string, c io.Closer) {
	h.Register(name, func(context.Context) error {
		return c.Close()
	})
}

// Trigger simulates a received signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Shutdown cancels the context and runs the callbacks. Later calls return
// the first call's result.
func (h *Handler) Shutdown() error {
	if !h.shutting.CompareAndSwap(false, true) {
		<-h.done
		return h.err
	}
	defer close(h.done)

	signal.Stop(h.sigChan)
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	names := append([]string(nil), h.names...)
	funcs := append([]Callback(nil), h.funcs...)
	h.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := run(ctx, names[i], funcs[i]); err != nil {
			h.log.WithError(err).WithFields(map[string]interface{}{"callback": names[i]}).
				Error("Cleanup failed")
			errs = append(errs, err)
		}
	}

	h.err = errors.Join(errs...)
	return h.err
}

// Done is closed when Shutdown has finished.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func run(ctx context.Context, name string, cb Callback) error {
	result := make(chan error, 1)
	go func() {
		result <- cb(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback does not finish in time.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

package midi

import (
	"log/slog"

	"github.com/google/uuid"
)

// Context is the application instance that owns a set of ports. Ports
// capture it at construction and hand it to their message callback, so a
// callback running on a driver goroutine knows which instance it serves.
type Context struct {
	// ID tells contexts apart in logs. Logger carries it as "session".
	ID       uuid.UUID
	Registry *Registry
	Logger   *slog.Logger

	onDriverError func(error)
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithLogger sets the logger used for driver warnings.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) {
		c.Logger = logger
	}
}

// WithDriverErrorHandler registers fn to receive every *DriverError a port
// swallows. Send failures are not reported.
func WithDriverErrorHandler(fn func(error)) ContextOption {
	return func(c *Context) {
		c.onDriverError = fn
	}
}

// NewContext returns a context resolving drivers through reg. A nil reg is
// replaced by an empty registry.
func NewContext(reg *Registry, opts ...ContextOption) *Context {
	c := &Context{
		ID:       uuid.New(),
		Registry: reg,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("session", c.ID.String())
	return c
}

func (c *Context) driverError(msg string, err *DriverError, attrs ...any) {
	attrs = append(attrs, "driver", err.DriverID, "device", err.DeviceID, "err", err.Err)
	c.Logger.Warn(msg, attrs...)
	if c.onDriverError != nil {
		c.onDriverError(err)
	}
}

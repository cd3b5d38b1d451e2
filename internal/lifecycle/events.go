package lifecycle

import (
	"log/slog"

	"github.com/vortexlab/vortex/internal/metrics"
	"github.com/vortexlab/vortex/internal/model"
)

// EventHandler receives lifecycle events. A handler that returns an error is
// logged and skipped — it must never block or abort delivery to the handlers
// registered after it, or to later events (spec §4.2 "Event fan-out").
type EventHandler interface {
	Handle(event model.VmEvent) error
	Name() string
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc struct {
	FuncName string
	Func     func(model.VmEvent) error
}

func (f EventHandlerFunc) Handle(event model.VmEvent) error { return f.Func(event) }
func (f EventHandlerFunc) Name() string                     { return f.FuncName }

// eventDispatcher fans out VmEvents to registered handlers, serially, in
// registration order, on the producer's own goroutine. This is the direct
// analogue of the teacher's LogBroker.Publish, except there are no
// subscriber channels to drop into: delivery is synchronous and a failing
// handler is isolated by a recover+log instead of a buffered channel.
//
// Per spec §4.2/DESIGN NOTES, fan-out stays synchronous on the producer;
// a handler doing I/O (e.g. metrics export) is responsible for its own
// bounded internal queue so it never blocks this call.
type eventDispatcher struct {
	logger   *slog.Logger
	handlers []EventHandler
}

func newEventDispatcher(logger *slog.Logger) *eventDispatcher {
	return &eventDispatcher{logger: logger}
}

// addHandler registers a handler. Registration is write-once in the common
// case (startup) and is not safe for concurrent use with dispatch — callers
// register all handlers before the Manager begins serving operations.
func (d *eventDispatcher) addHandler(h EventHandler) {
	d.handlers = append(d.handlers, h)
}

// dispatch delivers event to every handler in registration order. A handler
// that returns an error, or panics, is logged and skipped; dispatch always
// continues to the next handler.
func (d *eventDispatcher) dispatch(event model.VmEvent) {
	for _, h := range d.handlers {
		d.invoke(h, event)
	}
}

func (d *eventDispatcher) invoke(h EventHandler, event model.VmEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "handler", h.Name(), "event", event.Tag, "vm_id", event.VmID, "panic", r)
			metrics.RecordEventHandlerFailure(h.Name())
		}
	}()

	if err := h.Handle(event); err != nil {
		d.logger.Error("event handler failed", "handler", h.Name(), "event", event.Tag, "vm_id", event.VmID, "error", err)
		metrics.RecordEventHandlerFailure(h.Name())
	}
}

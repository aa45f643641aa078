// Package transcode invokes ffmpeg to produce derivatives of stored videos:
// animated previews, trim/crop/compress edits, and live format conversions.
// Every invocation is an argument vector (never shell-interpolated), runs
// under a deadline, and is gated by a fixed-size semaphore so a burst of
// requests cannot fork an unbounded number of encoder processes.
package transcode

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrServerBusy        = errors.New("transcode: too many concurrent transcodes")
	ErrUnsupportedFormat = errors.New("transcode: unsupported format")
	ErrInvalidTimeRange  = errors.New("transcode: invalid trim time range")
	ErrInvalidDuration   = errors.New("transcode: trim leaves no playable duration")
	ErrInvalidTargetSize = errors.New("transcode: target size must be positive")
	ErrBitrateTooLow     = errors.New("transcode: target size too small for video duration")
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipbin_transcode_operations_total",
		Help: "Encoder invocations by operation.",
	}, []string{"op"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipbin_transcode_failures_total",
		Help: "Failed encoder invocations by operation.",
	}, []string{"op"})

	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipbin_transcode_rejected_total",
		Help: "Transcode requests rejected because all encoder slots were busy.",
	})
)

// ExecError carries the encoder's diagnostic output. Handlers log it and
// return a generic message to the client.
type ExecError struct {
	Op     string
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ffmpeg %s: %v: %s", e.Op, e.Err, e.Output)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

type Engine struct {
	sem chan struct{}
}

func NewEngine(maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	return &Engine{sem: make(chan struct{}, maxConcurrent)}
}

// acquire reserves an encoder slot without blocking. The pipeline fails fast
// with ErrServerBusy instead of queueing, so a stalled encoder cannot pile up
// waiting requests behind it.
func (e *Engine) acquire() (release func(), err error) {
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	default:
		rejectedTotal.Inc()
		return nil, ErrServerBusy
	}
}

// Package source implements the Event Source (spec §4.1): the boundary that
// turns raw newline-delimited JSON into model.Event values and feeds them to
// the hub through a bounded channel, dropping and logging on backpressure
// rather than blocking the producer.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"sentinel/internal/audit"
	"sentinel/internal/metrics"
	"sentinel/internal/model"
)

// Stream is anything that produces a channel of events and can be stopped.
type Stream interface {
	// Events returns the channel events are delivered on. It is closed when
	// the stream stops for any reason.
	Events() <-chan *model.Event
	// Close stops the stream and releases its resources.
	Close() error
}

// eventEnvelope is the minimal shape used to validate and decode a raw JSON
// line before it is treated as a model.Event (spec §4.1's "must carry an
// eventType key" validation rule).
type eventEnvelope struct {
	EventType json.RawMessage `json:"eventType"`
}

// decodeLine validates that line is a JSON object carrying a non-null
// "eventType" key, then decodes it fully into a model.Event. Malformed or
// keyless lines are dropped by the caller, which logs and counts each drop
// (spec §4.1).
func decodeLine(line []byte) (*model.Event, bool) {
	var probe eventEnvelope
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, false
	}
	if len(probe.EventType) == 0 || string(probe.EventType) == "null" {
		return nil, false
	}

	var event model.Event
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, false
	}
	return &event, true
}

// send attempts a non-blocking bounded send; on a full channel it drops the
// event and logs/counts the drop rather than blocking the producer (spec
// §4.1's backpressure rule).
func send(ctx context.Context, ch chan<- *model.Event, logger audit.Logger, event *model.Event) {
	select {
	case ch <- event:
	default:
		_ = logger.LogEventDropped(ctx, "queue full")
		metrics.SourceLinesDroppedTotal.WithLabelValues("queue_full").Inc()
	}
}

// ProcessStream spawns an external process and turns its stdout, read
// line-by-line, into events. Stderr is drained to the audit logger so a
// misbehaving producer's diagnostics are never lost nor block its stdout
// pipe (spec §4.1, grounded on the teacher's subprocess-log draining
// pattern).
type ProcessStream struct {
	cmd    *exec.Cmd
	events chan *model.Event
	logger audit.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessStream starts path as a subprocess and begins streaming its
// stdout as events onto a channel of the given capacity.
func NewProcessStream(ctx context.Context, path string, queueCapacity int, logger audit.Logger) (*ProcessStream, error) {
	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open process stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open process stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start event source process: %w", err)
	}

	ps := &ProcessStream{
		cmd:    cmd,
		events: make(chan *model.Event, queueCapacity),
		logger: logger,
		cancel: cancel,
	}

	ps.wg.Add(2)
	go ps.drainStdout(runCtx, stdout)
	go ps.drainStderr(stderr)

	return ps, nil
}

func (ps *ProcessStream) drainStdout(ctx context.Context, r io.Reader) {
	defer ps.wg.Done()
	defer close(ps.events)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		event, ok := decodeLine([]byte(line))
		if !ok {
			_ = ps.logger.LogEventDropped(ctx, "malformed line")
			metrics.SourceLinesDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}
		send(ctx, ps.events, ps.logger, event)
	}
}

func (ps *ProcessStream) drainStderr(r io.Reader) {
	defer ps.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		_ = ps.logger.LogEventDropped(context.Background(), "source stderr: "+scanner.Text())
	}
}

// Events implements Stream.
func (ps *ProcessStream) Events() <-chan *model.Event { return ps.events }

// Close terminates the subprocess and waits for its drain goroutines.
func (ps *ProcessStream) Close() error {
	ps.cancel()
	err := ps.cmd.Wait()
	ps.wg.Wait()
	return err
}

// PushStream is an in-process event source: a caller feeds events directly
// via Push, bypassing subprocess and line-parsing entirely (spec §4.1's
// "push" source mode).
type PushStream struct {
	events chan *model.Event
	logger audit.Logger
	once   sync.Once
}

// NewPushStream creates a push-mode stream with the given queue capacity.
func NewPushStream(queueCapacity int, logger audit.Logger) *PushStream {
	return &PushStream{
		events: make(chan *model.Event, queueCapacity),
		logger: logger,
	}
}

// Push attempts a non-blocking bounded send of event, dropping it on a full
// queue (spec §4.1's backpressure rule).
func (ps *PushStream) Push(ctx context.Context, event *model.Event) {
	send(ctx, ps.events, ps.logger, event)
}

// Events implements Stream.
func (ps *PushStream) Events() <-chan *model.Event { return ps.events }

// Close closes the events channel. Safe to call more than once.
func (ps *PushStream) Close() error {
	ps.once.Do(func() { close(ps.events) })
	return nil
}

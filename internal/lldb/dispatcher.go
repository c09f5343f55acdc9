/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package lldb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const (
	// DefaultIdleTimeout is how long the debugger output must stay quiet before a reply is considered complete.
	DefaultIdleTimeout = 250 * time.Millisecond

	// DefaultPrompt is the interactive prompt printed by LLDB when it is ready for the next command.
	DefaultPrompt = "(lldb) "

	defaultQueueSize = 16
)

// DispatcherConfig holds the configuration of a command dispatcher.
type DispatcherConfig struct {
	// IdleTimeout is the quiet period that ends a reply. If zero, DefaultIdleTimeout is used.
	IdleTimeout time.Duration

	// Prompt, if not empty, ends a reply as soon as the accumulated output ends with it.
	// The prompt is not included in the reply text.
	// A prompt that arrives before any other output of a command is taken to be the late prompt
	// of the previous command (framed by the idle timer) and is discarded. Such a command relies
	// on the idle timer, so a command with no output resolves to "" after one idle period.
	Prompt string

	// QueueSize is the number of commands that can wait for dispatch without blocking the caller.
	// If zero, defaults to 16.
	QueueSize int

	Logger logr.Logger
}

type commandResult struct {
	text string
	err  error
}

// pendingCommand is a command written to the debugger, awaiting its textual reply.
type pendingCommand struct {
	text  string
	write bool // false for the startup capture, which reads output without sending anything
	ctx   context.Context

	// framed receives the accumulated output when the reply is complete.
	framed chan string

	// result is delivered to the caller exactly once.
	result      chan commandResult
	deliverOnce sync.Once
}

func newPendingCommand(ctx context.Context, text string, write bool) *pendingCommand {
	return &pendingCommand{
		text:   text,
		write:  write,
		ctx:    ctx,
		framed: make(chan string, 1),
		result: make(chan commandResult, 1),
	}
}

func (pc *pendingCommand) deliver(text string, err error) {
	pc.deliverOnce.Do(func() {
		pc.result <- commandResult{text: text, err: err}
	})
}

// Dispatcher writes single-line commands to the debugger's standard input and frames the
// debugger's replies. Commands are executed strictly one at a time from an internal queue,
// so the output of one command never lands in the buffer of another.
//
// A reply is complete when the output stays quiet for the idle timeout, or when it ends with
// the configured prompt. The idle timer is armed when the command is written and re-armed
// by every output chunk.
type Dispatcher struct {
	stdin       io.Writer
	idleTimeout time.Duration
	prompt      string
	log         logr.Logger

	queue      chan *pendingCommand
	startup    *pendingCommand
	startOnce  sync.Once
	workerDone chan struct{}

	// failed is closed when the dispatcher stops accepting commands.
	failed   chan struct{}
	failOnce sync.Once
	failErr  error

	// mu protects the fields below, which describe the command currently being framed.
	mu         sync.Mutex
	current    *pendingCommand
	buf        bytes.Buffer
	timer      *time.Timer
	generation uint64
}

// NewDispatcher creates a dispatcher that writes commands to stdin.
// Output fed through HandleOutput before the first command is dispatched is captured
// as the startup banner (see Banner). Call Start once the debugger process is running.
func NewDispatcher(stdin io.Writer, config DispatcherConfig) *Dispatcher {
	idleTimeout := config.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	d := &Dispatcher{
		stdin:       stdin,
		idleTimeout: idleTimeout,
		prompt:      config.Prompt,
		log:         log,
		queue:       make(chan *pendingCommand, queueSize),
		workerDone:  make(chan struct{}),
		failed:      make(chan struct{}),
	}

	d.startup = newPendingCommand(context.Background(), "", false)
	d.current = d.startup

	return d
}

// Start arms the idle timer for the startup banner and starts processing queued commands.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.Lock()
		if d.current == d.startup {
			d.armTimerLocked()
		}
		d.mu.Unlock()

		go d.worker()
	})
}

// Banner waits for the output the debugger emitted on startup, up to its first quiet period.
func (d *Dispatcher) Banner(ctx context.Context) (string, error) {
	return d.await(ctx, d.startup)
}

// Execute writes a single-line command to the debugger and returns the text of its reply.
// If ctx is done before the reply is complete, ctx.Err() is returned; the dispatcher still waits for
// the abandoned reply to complete before dispatching the next command.
func (d *Dispatcher) Execute(ctx context.Context, command string) (string, error) {
	if strings.ContainsAny(command, "\r\n") {
		return "", fmt.Errorf("%w: %q", ErrMultilineCommand, command)
	}

	pc := newPendingCommand(ctx, command, true)

	select {
	case <-d.failed:
		return "", d.err()
	case <-ctx.Done():
		return "", ctx.Err()
	case d.queue <- pc:
	}

	return d.await(ctx, pc)
}

func (d *Dispatcher) await(ctx context.Context, pc *pendingCommand) (string, error) {
	select {
	case r := <-pc.result:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.workerDone:
		// The worker may have delivered the result just before exiting.
		select {
		case r := <-pc.result:
			return r.text, r.err
		default:
			return "", d.err()
		}
	}
}

// HandleOutput feeds a chunk of debugger output to the dispatcher.
// Output that arrives while no command is pending is dropped.
func (d *Dispatcher) HandleOutput(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil || d.failErr != nil {
		d.log.V(1).Info("Debugger output received with no pending command", "length", len(chunk))
		return
	}

	d.buf.Write(chunk)

	if d.prompt != "" && bytes.HasSuffix(d.buf.Bytes(), []byte(d.prompt)) {
		reply := bytes.TrimSuffix(d.buf.Bytes(), []byte(d.prompt))
		if len(reply) == 0 && d.current.write {
			d.log.V(1).Info("Discarding debugger prompt that precedes the reply", "command", d.current.text)
			d.buf.Reset()
			d.armTimerLocked()
			return
		}
		d.completeLocked(string(reply))
		return
	}

	d.armTimerLocked()
}

// Fail rejects the pending command and all queued commands with err.
// Subsequent commands fail immediately with the same error. Only the first call has an effect.
func (d *Dispatcher) Fail(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}

	d.failOnce.Do(func() {
		d.mu.Lock()
		d.failErr = err
		d.stopTimerLocked()
		d.mu.Unlock()

		close(d.failed)
	})
}

// Close stops the dispatcher and waits for its worker to finish.
func (d *Dispatcher) Close() {
	d.Fail(ErrDispatcherClosed)
	d.Start() // Make sure the worker exists, so that it can drain the queue.
	<-d.workerDone
}

func (d *Dispatcher) err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failErr
}

func (d *Dispatcher) worker() {
	defer close(d.workerDone)

	d.awaitFraming(d.startup)

	for {
		select {
		case <-d.failed:
			d.drainQueue()
			return
		case pc := <-d.queue:
			d.run(pc)
		}
	}
}

func (d *Dispatcher) run(pc *pendingCommand) {
	if ctxErr := pc.ctx.Err(); ctxErr != nil {
		pc.deliver("", ctxErr)
		return
	}

	d.mu.Lock()
	select {
	case <-d.failed:
		d.mu.Unlock()
		pc.deliver("", d.err())
		return
	default:
	}
	d.current = pc
	d.buf.Reset()
	d.armTimerLocked()
	d.mu.Unlock()

	d.log.V(1).Info("Sending debugger command", "command", pc.text)

	if _, writeErr := io.WriteString(d.stdin, pc.text+"\n"); writeErr != nil {
		d.mu.Lock()
		if d.current == pc {
			d.current = nil
			d.stopTimerLocked()
		}
		d.mu.Unlock()

		pc.deliver("", fmt.Errorf("failed to write debugger command: %w", writeErr))
		return
	}

	d.awaitFraming(pc)
}

// awaitFraming blocks until the reply of pc is complete or the dispatcher fails.
// Caller cancellation is reported right away, but the wait continues, so that the rest
// of the abandoned reply is not attributed to the next command.
func (d *Dispatcher) awaitFraming(pc *pendingCommand) {
	ctxDone := pc.ctx.Done()

	for {
		select {
		case text := <-pc.framed:
			pc.deliver(text, nil)
			return
		case <-ctxDone:
			pc.deliver("", pc.ctx.Err())
			ctxDone = nil
		case <-d.failed:
			d.mu.Lock()
			if d.current == pc {
				d.current = nil
			}
			d.mu.Unlock()

			// The reply may have been framed just before the failure.
			select {
			case text := <-pc.framed:
				pc.deliver(text, nil)
			default:
				pc.deliver("", d.err())
			}
			return
		}
	}
}

func (d *Dispatcher) drainQueue() {
	failErr := d.err()
	for {
		select {
		case pc := <-d.queue:
			pc.deliver("", failErr)
		default:
			return
		}
	}
}

func (d *Dispatcher) armTimerLocked() {
	d.stopTimerLocked()
	d.generation++
	generation := d.generation
	pc := d.current
	d.timer = time.AfterFunc(d.idleTimeout, func() {
		d.onIdle(pc, generation)
	})
}

func (d *Dispatcher) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Dispatcher) onIdle(pc *pendingCommand, generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A stale timer (re-armed or stopped after it fired) must not complete anything.
	if d.current != pc || d.generation != generation {
		return
	}

	d.completeLocked(d.buf.String())
}

func (d *Dispatcher) completeLocked(text string) {
	pc := d.current
	d.current = nil
	d.stopTimerLocked()
	d.buf.Reset()
	pc.framed <- text // Never blocks: framed is buffered and each command is framed once.
}

// Package devlink provides the request/response channel to one firmware
// endpoint (mount, camera board, weather station).
//
// The wire protocol is line-based: a request is "CMD arg arg\n", the reply
// is "ok [payload]" or "err reason". Lines starting with '!' are
// asynchronous firmware notices and are logged, not returned.
package devlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrUnreachable is returned after the automatic retry has also failed and
// the link has been marked degraded. The caller decides whether to
// Reconnect; the link never reconnects on its own.
var ErrUnreachable = errors.New("device unreachable")

// UnreachableError names the device that became unreachable so the
// fault-recovery path can reconnect the right link. It matches
// errors.Is(err, ErrUnreachable).
type UnreachableError struct {
	Device string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Device, ErrUnreachable, e.Err)
}

func (e *UnreachableError) Unwrap() error { return ErrUnreachable }

// Response is a decoded reply from the device. Status is "ok" or "err"; an
// "err" reply is a device-level refusal, not a transport failure.
type Response struct {
	Status  string
	Payload string
}

func (r Response) OK() bool { return r.Status == "ok" }

// Err converts an "err" reply into an error, naming the device.
func (r Response) Err(name string) error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%s: %s", name, r.Payload)
}

// Link is the single owner of one device connection. All commands to a
// physical device are serialized through its Link.
type Link struct {
	name    string
	dialer  Dialer
	timeout time.Duration
	retry   RetryPolicy

	mu            sync.Mutex
	conn          io.ReadWriteCloser
	lines         chan string
	lastHeartbeat time.Time
	degraded      bool
}

func New(name string, dialer Dialer, timeout time.Duration, retry RetryPolicy) *Link {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Link{name: name, dialer: dialer, timeout: timeout, retry: retry}
}

func (l *Link) Name() string { return l.name }

// Connect establishes the underlying channel and starts the reader.
func (l *Link) Connect(ctx context.Context) error {
	conn, err := l.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("opening %q: %w", l.dialer.String(), err)
	}
	log.Printf("%s: opened %q", l.name, l.dialer.String())
	lines := make(chan string, 8)
	l.mu.Lock()
	l.conn = conn
	l.lines = lines
	l.lastHeartbeat = time.Now()
	l.mu.Unlock()
	go l.readLoop(conn, lines)
	return nil
}

func (l *Link) readLoop(conn io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		input := scanner.Text()
		if input == "" {
			continue
		}
		l.mu.Lock()
		l.lastHeartbeat = time.Now()
		l.mu.Unlock()
		if input[0] == '!' {
			log.Printf("%s: %s", l.name, input)
			continue
		}
		lines <- input
	}
	if err := scanner.Err(); err != nil {
		log.Printf("%s: reading: %v", l.name, err)
	}
}

// Send issues one command and waits for the reply, bounded by the link's
// default timeout. On timeout or a malformed reply the same command is
// retried once; a second consecutive failure marks the link degraded and
// returns ErrUnreachable.
func (l *Link) Send(ctx context.Context, cmd string, args ...string) (Response, error) {
	return l.SendTimeout(ctx, l.timeout, cmd, args...)
}

// SendTimeout is Send with a per-call timeout, for commands whose reply is
// legitimately slow (a camera exposure completes before the board answers).
func (l *Link) SendTimeout(ctx context.Context, timeout time.Duration, cmd string, args ...string) (Response, error) {
	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	var lastErr error
	for try := 0; try < 2; try++ {
		resp, err := l.sendOnce(ctx, timeout, line)
		if err == nil {
			l.mu.Lock()
			l.degraded = false
			l.mu.Unlock()
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		lastErr = err
		log.Printf("%s: %q attempt %d: %v", l.name, cmd, try+1, err)
	}
	l.mu.Lock()
	l.degraded = true
	l.mu.Unlock()
	return Response{}, &UnreachableError{Device: l.name, Err: lastErr}
}

func (l *Link) sendOnce(ctx context.Context, timeout time.Duration, line string) (Response, error) {
	l.mu.Lock()
	conn, lines := l.conn, l.lines
	l.mu.Unlock()
	if conn == nil {
		return Response{}, errors.New("not connected")
	}

	// Drop replies left over from a previously timed-out command so the
	// next reply read belongs to this request. A closed channel means the
	// reader saw the connection drop.
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return Response{}, errors.New("connection closed")
			}
			continue
		default:
		}
		break
	}

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return Response{}, fmt.Errorf("writing: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timer.C:
		return Response{}, fmt.Errorf("timeout after %v", timeout)
	case reply, ok := <-lines:
		if !ok {
			return Response{}, errors.New("connection closed")
		}
		return parseReply(reply)
	}
}

func parseReply(line string) (Response, error) {
	status, payload, _ := strings.Cut(line, " ")
	switch status {
	case "ok", "err":
		return Response{Status: status, Payload: payload}, nil
	}
	return Response{}, fmt.Errorf("malformed reply %q", line)
}

// Reconnect tears down the channel and re-establishes it under the link's
// retry policy. Called by the sequencer's fault-recovery path.
func (l *Link) Reconnect(ctx context.Context) error {
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < l.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retry.Backoff(attempt - 1)):
			}
		}
		if err := l.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		l.mu.Lock()
		l.degraded = false
		l.mu.Unlock()
		return nil
	}
	return &UnreachableError{Device: l.name, Err: lastErr}
}

// Degraded reports whether the last command exhausted its retry.
func (l *Link) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// LastHeartbeat is the time of the last byte received from the device.
func (l *Link) LastHeartbeat() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHeartbeat
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// Fields parses a "key=value key=value" payload.
func Fields(payload string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Fields(payload) {
		if k, v, ok := strings.Cut(part, "="); ok {
			out[k] = v
		}
	}
	return out
}

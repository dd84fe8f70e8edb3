// Package driver implements the refresh capability by talking to an
// external helper executable. Each Open starts a new helper process, which
// owns one spreadsheet application instance for its lifetime. Requests and
// responses are single-line JSON objects on the helper's stdin and stdout.
package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/BadgerOps/pqrefresh/internal/refresh"
)

// VisibleEnv tells the helper whether to show the application window.
const VisibleEnv = "PQREFRESH_VISIBLE"

// DefaultCloseTimeout is how long Close waits for the helper to exit
// before killing it.
const DefaultCloseTimeout = 10 * time.Second

// maxLineSize bounds one response line.
const maxLineSize = 1 << 20

// ProcessDriver starts helper processes on demand.
type ProcessDriver struct {
	command string
	args    []string
	logger  *slog.Logger

	closeTimeout time.Duration
}

// NewProcessDriver creates a driver that runs command with args.
func NewProcessDriver(command string, args []string, logger *slog.Logger) *ProcessDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDriver{
		command:      command,
		args:         args,
		logger:       logger,
		closeTimeout: DefaultCloseTimeout,
	}
}

// Available reports whether the helper command is configured and can be
// found.
func (d *ProcessDriver) Available() error {
	_, err := d.resolve()
	return err
}

func (d *ProcessDriver) resolve() (string, error) {
	if d.command == "" {
		return "", fmt.Errorf("%w: no driver command configured", refresh.ErrDriverUnavailable)
	}
	path, err := exec.LookPath(d.command)
	if err != nil {
		return "", fmt.Errorf("%w: %v", refresh.ErrDriverUnavailable, err)
	}
	return path, nil
}

// Open starts a helper process.
func (d *ProcessDriver) Open(ctx context.Context, visible bool) (refresh.Application, error) {
	path, err := d.resolve()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, d.args...)
	v := "0"
	if visible {
		v = "1"
	}
	cmd.Env = append(os.Environ(), VisibleEnv+"="+v)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating helper stdin: %w", err)
	}
	// Wait must not close the read side while responses are still being
	// consumed, so output goes through io.Pipes closed after Wait returns.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("starting helper %s: %w", path, err)
	}

	p := &process{
		cmd:          cmd,
		stdin:        stdin,
		lines:        make(chan lineResult, 1),
		quit:         make(chan struct{}),
		logger:       d.logger.With("helper_pid", cmd.Process.Pid),
		closeTimeout: d.closeTimeout,
		waitDone:     make(chan struct{}),
	}
	go p.readLines(stdoutR)
	go p.logStderr(stderrR)
	go func() {
		p.waitErr = cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		close(p.waitDone)
	}()

	p.logger.Debug("helper started", "command", path, "visible", visible)
	return p, nil
}

type request struct {
	ID         int64  `json:"id"`
	Op         string `json:"op"`
	Path       string `json:"path,omitempty"`
	Connection string `json:"connection,omitempty"`
}

type response struct {
	ID          int64    `json:"id"`
	OK          bool     `json:"ok"`
	Error       string   `json:"error,omitempty"`
	Connections []string `json:"connections,omitempty"`
	Refreshing  bool     `json:"refreshing,omitempty"`
}

type lineResult struct {
	line []byte
	err  error
}

// errHelperExited is returned when the helper closes stdout mid-session.
var errHelperExited = errors.New("helper exited")

// errHelperStalled is returned for every request after one went
// unanswered past its deadline.
var errHelperStalled = errors.New("helper stopped responding")

// process is one running helper.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan lineResult
	quit   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	nextID int64
	// stalled is set once a response was not read in time. A late answer
	// would be taken as the reply to the next request, so the session is
	// over.
	stalled bool

	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error

	waitDone chan struct{}
	waitErr  error
}

// readLines feeds response lines to call. Once the process is closing it
// discards output so the helper never blocks on a full pipe.
func (p *process) readLines(r io.Reader) {
	defer close(p.lines)
	defer io.Copy(io.Discard, r)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		select {
		case p.lines <- lineResult{line: line}:
		case <-p.quit:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = errHelperExited
	}
	select {
	case p.lines <- lineResult{err: err}:
	case <-p.quit:
	}
}

func (p *process) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.logger.Debug("helper stderr", "line", sc.Text())
	}
}

// call sends one request and waits for its response.
func (p *process) call(ctx context.Context, req request) (response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stalled {
		return response{}, fmt.Errorf("%s: %w", req.Op, errHelperStalled)
	}

	p.nextID++
	req.ID = p.nextID

	data, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("encoding %s request: %w", req.Op, err)
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return response{}, fmt.Errorf("sending %s request: %w", req.Op, err)
	}

	var res lineResult
	select {
	case <-ctx.Done():
		p.stalled = true
		return response{}, fmt.Errorf("waiting for %s response: %w", req.Op, ctx.Err())
	case r, ok := <-p.lines:
		if !ok {
			return response{}, fmt.Errorf("waiting for %s response: %w", req.Op, errHelperExited)
		}
		res = r
	}
	if res.err != nil {
		return response{}, fmt.Errorf("waiting for %s response: %w", req.Op, res.err)
	}

	var resp response
	if err := json.Unmarshal(res.line, &resp); err != nil {
		return response{}, fmt.Errorf("decoding %s response: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		return response{}, fmt.Errorf("%s response id %d does not match request id %d", req.Op, resp.ID, req.ID)
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "unspecified helper error"
		}
		return resp, fmt.Errorf("%s: %s", req.Op, msg)
	}
	return resp, nil
}

func (p *process) OpenDocument(ctx context.Context, path string) (refresh.Document, error) {
	if _, err := p.call(ctx, request{Op: "open_document", Path: path}); err != nil {
		return nil, err
	}
	return &document{p: p}, nil
}

// Close asks the helper to close without saving, then waits for it to
// exit. A helper that does not exit within the close timeout is killed, and
// one that already stopped responding is killed right away.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		stalled := p.stalled
		p.mu.Unlock()
		if stalled {
			p.logger.Warn("helper stopped responding, killing it")
			close(p.quit)
			p.stdin.Close()
			p.kill()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.closeTimeout)
		defer cancel()

		if _, err := p.call(ctx, request{Op: "close"}); err != nil {
			p.logger.Warn("helper close request failed", "error", err)
		}
		close(p.quit)
		p.stdin.Close()

		select {
		case <-p.waitDone:
			if p.waitErr != nil {
				p.logger.Debug("helper exited with error", "error", p.waitErr)
			}
		case <-ctx.Done():
			p.logger.Warn("helper did not exit, killing it", "timeout", p.closeTimeout)
			p.kill()
		}
	})
	return p.closeErr
}

func (p *process) kill() {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.closeErr = fmt.Errorf("killing helper: %w", err)
	}
	<-p.waitDone
}

type document struct {
	p *process
}

func (d *document) Connections(ctx context.Context) ([]refresh.Connection, error) {
	resp, err := d.p.call(ctx, request{Op: "connections"})
	if err != nil {
		return nil, err
	}
	conns := make([]refresh.Connection, 0, len(resp.Connections))
	for _, name := range resp.Connections {
		conns = append(conns, &connection{p: d.p, name: name})
	}
	return conns, nil
}

func (d *document) Save(ctx context.Context) error {
	_, err := d.p.call(ctx, request{Op: "save"})
	return err
}

type connection struct {
	p    *process
	name string
}

func (c *connection) Name() string { return c.name }

func (c *connection) Refresh(ctx context.Context) error {
	_, err := c.p.call(ctx, request{Op: "refresh", Connection: c.name})
	return err
}

func (c *connection) Refreshing(ctx context.Context) (bool, error) {
	resp, err := c.p.call(ctx, request{Op: "is_refreshing", Connection: c.name})
	if err != nil {
		return false, err
	}
	return resp.Refreshing, nil
}

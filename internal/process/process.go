// Package process runs external binaries under supervision: output is
// delivered line by line while the child runs, and a cancelled run never
// leaves the child (or anything it spawned) behind.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// LineFunc receives one decoded output line without its line terminator.
type LineFunc func(line string)

// ExitFunc receives the exit code once the process exited and its output was drained.
type ExitFunc func(code int)

// drainTimeout bounds how long a killed process may keep its pipes open.
const drainTimeout = 5 * time.Second

// StartError reports that the binary could not be started at all.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Process is a single supervised run of an external binary. Handlers must be
// registered before Run; a Process cannot be run twice.
type Process struct {
	path string
	args []string
	dir  string
	env  []string

	stdout []LineFunc
	stderr []LineFunc
	exit   []ExitFunc

	mu      sync.Mutex
	started bool
}

func New(path string, args []string, dir string) *Process {
	return &Process{
		path: path,
		args: append([]string(nil), args...),
		dir:  dir,
	}
}

// WithEnv sets the child's environment. Nil inherits the parent's.
func (p *Process) WithEnv(env []string) *Process {
	p.env = env
	return p
}

func (p *Process) OnStdout(fn LineFunc) { p.stdout = append(p.stdout, fn) }
func (p *Process) OnStderr(fn LineFunc) { p.stderr = append(p.stderr, fn) }
func (p *Process) OnExit(fn ExitFunc)   { p.exit = append(p.exit, fn) }

func (p *Process) Path() string   { return p.path }
func (p *Process) Args() []string { return append([]string(nil), p.args...) }

// CommandLine renders the invocation the way a shell user would type it.
func (p *Process) CommandLine() string {
	return JoinArgs(append([]string{p.path}, p.args...))
}

// Run starts the process and blocks until it exited and both output streams
// were fully drained. A non-zero exit is reported through the code, not the
// error. If ctx is cancelled the whole process tree is killed and reaped
// before Run returns ctx's error.
func (p *Process) Run(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return -1, errors.New("process already started")
	}
	p.started = true
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return -1, err
	}

	cmd := exec.Command(p.path, p.args...)
	cmd.Dir = p.dir
	cmd.Env = p.env
	prepare(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, &StartError{Path: p.path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, &StartError{Path: p.path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return -1, &StartError{Path: p.path, Err: err}
	}

	s := &supervision{cmd: cmd}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pump(stdout, p.stdout)
	}()
	go func() {
		defer wg.Done()
		s.pump(stderr, p.stderr)
	}()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.kill()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
		}
		_ = cmd.Wait()
		<-drained
		return -1, ctx.Err()
	}

	waitErr := cmd.Wait()
	if herr := s.handlerErr(); herr != nil {
		return -1, herr
	}

	code := cmd.ProcessState.ExitCode()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return -1, fmt.Errorf("wait %s: %w", p.path, waitErr)
		}
	}

	for _, fn := range p.exit {
		fn(code)
	}
	return code, nil
}

// supervision is the shared state of one running child.
type supervision struct {
	cmd *exec.Cmd

	mu      sync.Mutex
	killed  bool
	failure error
}

func (s *supervision) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return
	}
	s.killed = true
	killTree(s.cmd)
}

func (s *supervision) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	s.kill()
}

func (s *supervision) handlerErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// pump splits r on '\n' and hands every line to the handlers. A trailing
// partial line is flushed at EOF. A panicking handler kills the child; the
// rest of the stream is still drained so the pipe never blocks the writer.
func (s *supervision) pump(r io.Reader, handlers []LineFunc) {
	br := bufio.NewReaderSize(r, 64*1024)
	deliver := len(handlers) > 0

	for {
		line, err := br.ReadString('\n')
		if line != "" && deliver {
			if herr := dispatch(normalize(line), handlers); herr != nil {
				s.fail(herr)
				deliver = false
			}
		}
		if err != nil {
			return
		}
	}
}

func dispatch(line string, handlers []LineFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("line handler panicked: %v", r)
		}
	}()
	for _, fn := range handlers {
		fn(line)
	}
	return nil
}

func normalize(line string) string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return strings.ToValidUTF8(line, "\uFFFD")
}

package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrNoInput is returned by WriteLine when the stdin pipe is absent or closed.
var ErrNoInput = errors.New("process input is not available")

// Pipes are the read ends of the child's output streams. Readers reach EOF
// once the child and every descendant holding the write ends exit.
type Pipes struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Process is a started child with its stdin handle and exit state.
type Process struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{} // closed once cmd.Wait returns

	inMu  sync.Mutex
	stdin io.WriteCloser

	mu       sync.Mutex
	exitErr  error
	exitedAt time.Time
}

// Start launches spec with stdin, stdout and stderr independently piped.
// The child is placed in its own process group.
func Start(spec Spec) (*Process, Pipes, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, Pipes{}, err
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, Pipes{}, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, Pipes{}, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(outR, outW)
		return nil, Pipes{}, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(outR, outW, errR, errW)
		return nil, Pipes{}, err
	}
	// The child holds its own copies now.
	closeAll(outW, errW)

	p := &Process{
		name:      spec.Name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stdin:     stdin,
	}
	go p.wait()
	return p, Pipes{Stdout: outR, Stderr: errR}, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.exitedAt = time.Now()
	p.mu.Unlock()
	p.CloseInput()
	close(p.done)
}

func (p *Process) Name() string         { return p.name }
func (p *Process) PID() int             { return p.pid }
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed when the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive is a non-blocking liveness probe.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the error from cmd.Wait; nil while running or on exit code 0.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// HasInput reports whether the stdin pipe is still open.
func (p *Process) HasInput() bool {
	p.inMu.Lock()
	defer p.inMu.Unlock()
	return p.stdin != nil
}

// WriteLine writes text plus a newline to stdin. Pipe writes are
// unbuffered, so a nil error means the OS accepted the bytes.
func (p *Process) WriteLine(text string) error {
	p.inMu.Lock()
	defer p.inMu.Unlock()
	if p.stdin == nil {
		return ErrNoInput
	}
	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			return ErrNoInput
		}
		return err
	}
	return nil
}

// CloseInput closes stdin. Safe to call more than once.
func (p *Process) CloseInput() {
	p.inMu.Lock()
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	p.inMu.Unlock()
}

// Terminate asks the process group to exit.
func (p *Process) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return signalGroup(p.cmd.Process, syscall.SIGTERM)
}

// Kill forcibly ends the process group.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	return signalGroup(p.cmd.Process, syscall.SIGKILL)
}

// WaitTimeout blocks until exit or d elapses and reports whether the
// process exited.
func (p *Process) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// Snapshot returns the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		Name:      p.name,
		Running:   p.exitedAt.IsZero(),
		PID:       p.pid,
		StartedAt: p.startedAt,
		StoppedAt: p.exitedAt,
	}
	if p.exitErr != nil {
		s.ExitErr = p.exitErr.Error()
	}
	return s
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

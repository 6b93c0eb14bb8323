package process

import (
	"context"
	"io"
	"os"
	"sync"
	"time"
)

const pipeWaitDelay = 2 * time.Second

// Process is a handle to one launched OS process.
//
// A single monitor goroutine owns cmd.Wait; everything else observes the
// exit through Done or the OnExit callbacks. Once the process has exited
// the handle is never reused.
type Process struct {
	spec      Spec
	pid       int
	startedAt time.Time

	mu        sync.Mutex
	exited    bool
	exitErr   error
	stoppedAt time.Time
	killed    bool
	callbacks []func(*Process, error)
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	done      chan struct{}
}

// Start spawns spec.Path with spec.Arguments. Every failure is a *LaunchError.
func Start(spec Spec) (*Process, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, &LaunchError{Path: spec.Path, Err: err}
	}

	p := &Process{spec: spec, done: make(chan struct{})}
	outW, errW, _ := spec.Log.Writers(spec.logName())
	p.outCloser, p.errCloser = outW, errW
	var null *os.File
	if outW == nil || errW == nil {
		null, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	cmd.Stdout, cmd.Stderr = pick(outW, null), pick(errW, null)
	// a grandchild holding the log pipe open must not delay the exit notification
	cmd.WaitDelay = pipeWaitDelay

	err = cmd.Start()
	if null != nil {
		// the child holds its own copy
		_ = null.Close()
	}
	if err != nil {
		p.closeWriters()
		return nil, &LaunchError{Path: spec.Path, Err: err}
	}
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.stoppedAt = time.Now()
		cbs := p.callbacks
		p.callbacks = nil
		close(p.done)
		p.mu.Unlock()
		p.closeWriters()
		for _, cb := range cbs {
			cb(p, err)
		}
	}()
	return p, nil
}

// OnExit registers fn to run once when the process exits. fn runs on the
// monitor goroutine, or on a fresh goroutine when the process has already
// exited; it never runs on the caller's goroutine.
func (p *Process) OnExit(fn func(*Process, error)) {
	p.mu.Lock()
	if p.exited {
		err := p.exitErr
		p.mu.Unlock()
		go fn(p, err)
		return
	}
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
}

// Terminate force-kills the process and its descendants. It is a no-op on
// an exited handle and treats a vanished process as success. It does not
// wait for the exit to be observed; use Wait for that.
func (p *Process) Terminate() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	pid := p.pid
	p.mu.Unlock()

	// collect descendants before the root dies and they get reparented
	desc := descendants(context.Background(), pid)
	err := killGroup(pid)
	if err != nil && isGone(err) {
		err = nil
	}
	for _, d := range desc {
		_ = killPID(context.Background(), d)
	}
	return err
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the exit has not been observed yet.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// ExitErr returns the error from cmd.Wait once the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Killed reports whether Terminate was requested on this handle.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *Process) PID() int             { return p.pid }
func (p *Process) StartedAt() time.Time { return p.startedAt }
func (p *Process) Spec() Spec           { return p.spec }

// StoppedAt is zero until the process has exited.
func (p *Process) StoppedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stoppedAt
}

func pick(w io.WriteCloser, null *os.File) io.Writer {
	if w != nil {
		return w
	}
	if null == nil {
		return nil
	}
	return null
}

// Close releases the log writers. The monitor closes them on exit as well,
// so calling Close is only needed when a handle is dropped early.
func (p *Process) Close() { p.closeWriters() }

func (p *Process) closeWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}

package systole

import (
	"context"
	"sync"

	Ss "github.com/maroda/systole/server"
)

// SessionSupervisor owns the goroutine that feeds the View's Session
type SessionSupervisor struct {
	View     *View
	Source   Ss.SampleSource
	StopChan chan struct{}
	WG       sync.WaitGroup
	MU       sync.Mutex
	parent   context.Context
	done     chan struct{}
	err      error
}

// NewSessionSupervisor is a wrapper around the View that manages the session goroutine
// They are strongly coupled, one knows about the other
func (v *View) NewSessionSupervisor(ctx context.Context, src Ss.SampleSource) *SessionSupervisor {
	ss := &SessionSupervisor{
		View:   v,
		Source: src,
		parent: ctx,
	}
	v.Supervisor = ss
	return ss
}

// Start runs Session.Run until the source ends, the parent context is done or Stop
func (p *SessionSupervisor) Start() {
	p.MU.Lock()
	stop := make(chan struct{})
	done := make(chan struct{})
	p.StopChan = stop
	p.done = done
	p.err = nil
	p.MU.Unlock()

	ctx, cancel := context.WithCancel(p.parent)

	p.WG.Add(1)
	go func() {
		defer p.WG.Done()
		defer close(done)
		defer cancel()

		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := p.View.Session.Run(ctx, p.Source); err != nil {
			p.MU.Lock()
			p.err = err
			p.MU.Unlock()
		}
	}()
}

// Stop the SessionSupervisor and wait for the session loop to return
func (p *SessionSupervisor) Stop() {
	p.MU.Lock()
	stop := p.StopChan
	p.StopChan = nil
	p.MU.Unlock()

	if stop != nil {
		close(stop)
		p.WG.Wait()
	}
}

// Restart drops the current measurement and feeds a fresh one from the same source
func (p *SessionSupervisor) Restart() {
	p.Stop()
	p.View.Session.Reset()
	p.Start()
}

// Done is closed when the session loop returns
func (p *SessionSupervisor) Done() <-chan struct{} {
	p.MU.Lock()
	defer p.MU.Unlock()
	return p.done
}

// Err is the source error that ended the loop, nil for a normal stop
func (p *SessionSupervisor) Err() error {
	p.MU.Lock()
	defer p.MU.Unlock()
	return p.err
}

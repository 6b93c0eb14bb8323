package profile

import "time"

// View is a point-in-time copy of a profile for readers outside the engine.
type View struct {
	Name         string    `json:"name"`
	Running      bool      `json:"running"`
	Applications []AppView `json:"applications"`
}

// AppView is the read-only state of one entry.
type AppView struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Arguments string `json:"arguments"`
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`

	// DetectedBy names the probe that found the entry alive on the host,
	// such as "pid:4242" or "image:code". Only set by a detecting read.
	DetectedBy string `json:"detected_by,omitempty"`
	LastExit   *Exit  `json:"last_exit,omitempty"`
}

// Exit is how an entry's most recent child ended. It is runtime-only and
// not persisted.
type Exit struct {
	PID       int       `json:"pid"`
	Err       string    `json:"err,omitempty"`
	Killed    bool      `json:"killed"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

// Uptime is how long the child ran.
func (e Exit) Uptime() time.Duration { return e.StoppedAt.Sub(e.StartedAt) }

// ViewLocked returns the entry's state at index i. Caller holds the profile lock.
func (a *Application) ViewLocked(i int) AppView {
	av := AppView{Index: i, Name: a.Name, Path: a.Path, Arguments: a.Arguments}
	if a.handle != nil && a.handle.Alive() {
		av.Running = true
		av.PID = a.handle.PID()
	}
	if a.lastExit != nil {
		e := *a.lastExit
		av.LastExit = &e
	}
	return av
}

// Snapshot returns the current state under the profile lock.
func (p *Profile) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := View{Name: p.Name, Running: p.running, Applications: make([]AppView, 0, len(p.Applications))}
	for i, a := range p.Applications {
		v.Applications = append(v.Applications, a.ViewLocked(i))
	}
	return v
}

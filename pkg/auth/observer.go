package auth

import (
	"context"

	"github.com/pzverkov/quantum-auth/pkg/metrics"
)

// Observer receives session lifecycle events. Implementations must be safe
// for concurrent use; one observer is typically shared by every session in
// a process.
type Observer interface {
	// StartSession is called once per run. The returned function is called
	// with the run's error when it ends.
	StartSession(ctx context.Context, protocol, role string) (context.Context, func(error))

	OnVerdict(protocol string, accepted bool)
	OnDesync(protocol, phase string)
	OnInvalidKey(protocol string)
	OnChannelError(protocol string, err error)
	OnQubits(sent, received int)
	OnClassical()
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) StartSession(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (NoOpObserver) OnVerdict(string, bool)       {}
func (NoOpObserver) OnDesync(string, string)      {}
func (NoOpObserver) OnInvalidKey(string)          {}
func (NoOpObserver) OnChannelError(string, error) {}
func (NoOpObserver) OnQubits(int, int)            {}
func (NoOpObserver) OnClassical()                 {}

var (
	_ Observer = NoOpObserver{}
	_ Observer = (*metrics.AuthObserver)(nil)
)

package resolver

import "context"

// Pending is a fetch that has been dispatched but may not have settled.
type Pending struct {
	done <-chan struct{}
	err  func() error
}

// Done is closed once the fetch settled and its data was merged.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the fetch error after Done was closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err()
	default:
		return nil
	}
}

// Wait blocks until the fetch settled or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package accessor turns reads into selections. An Accessor stands for one
// field of a cached response; every Field, On, List or value read records the
// field's selection in the Window of the current unit of work, so that the
// resolver learns what a projection needs by running it.
package accessor

import (
	"sync"

	"github.com/kleberbaum/gqty/internal/selection"
)

// Window collects the selections touched during one projection.
type Window struct {
	table *selection.Table

	mu  sync.Mutex
	set *selection.Set
	err error
}

func NewWindow(table *selection.Table) *Window {
	return &Window{table: table, set: selection.NewSet()}
}

// Table returns the table the window takes its roots from.
func (w *Window) Table() *selection.Table { return w.table }

// Selections returns a copy of the touched selections in touch order.
func (w *Window) Selections() *selection.Set {
	w.mu.Lock()
	defer w.mu.Unlock()
	return selection.NewSet(w.set.Slice()...)
}

// Err returns the first error raised while building selections, typically an
// *gqlerr.ArgumentError.
func (w *Window) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Window) touch(sel *selection.Selection) {
	w.mu.Lock()
	w.set.Add(sel)
	w.mu.Unlock()
}

// recall records the children remembered for sel by earlier resolutions. It
// runs when the data stops short of them: an empty list or a null object.
func (w *Window) recall(sel *selection.Selection) {
	known := w.table.Known(sel)
	if len(known) == 0 {
		return
	}
	w.mu.Lock()
	for _, k := range known {
		w.set.Add(k)
	}
	w.mu.Unlock()
}

func (w *Window) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

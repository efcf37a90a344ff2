package modsynth

// The engine exposes a single advisory last-error slot. Failures local to one
// route, layer or stage are absorbed and logged; only engine-wide faults land
// here, and callers may subscribe to changes for UI error banners.

// LastError returns the most recent engine fault, or nil.
func (e *Engine) LastError() error {
	return e.lastErr
}

// ClearLastError clears the error slot and notifies subscribers.
func (e *Engine) ClearLastError() {
	e.setLastError(nil)
}

// OnError registers a callback invoked whenever the last-error slot changes.
func (e *Engine) OnError(fn func(err error)) {
	if fn != nil {
		e.errSubs = append(e.errSubs, fn)
	}
}

func (e *Engine) setLastError(err error) {
	e.lastErr = err
	for _, fn := range e.errSubs {
		fn(err)
	}
}

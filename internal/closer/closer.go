// Package closer provides a stacked cleanup function: resources push their
// release action as they are acquired, and the composed function releases
// them in exact reverse-acquisition order on any exit path.
package closer

// CloseFn releases a set of resources. The zero-value usable start is Nop.
type CloseFn func()

// Nop is the empty cleanup, the base of a stack.
func Nop() CloseFn {
	return func() {}
}

// Stack registers the release of a newly acquired resource. When the
// composed function runs, stacked releases execute before the ones they
// were stacked onto, i.e. last acquired is first released.
func (fn *CloseFn) Stack(release func()) {
	prev := *fn
	*fn = func() {
		release()
		prev()
	}
}

// Maybe splits the cleanup into a cancelable pair: close runs the cleanup
// unless cancel was called first. Constructors use this to release their
// partial state on failure, and cancel once construction succeeded and
// ownership moved to the caller.
func (fn CloseFn) Maybe() (cancel func(), close func()) {
	armed := true
	cancel = func() {
		armed = false
	}
	close = func() {
		if armed {
			fn()
		}
	}
	return cancel, close
}

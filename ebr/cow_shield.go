package ebr

// CowShield is either a Shield owned by the holder or one borrowed from a
// caller.
//
// Data-structure operations take a CowShield so callers that are already
// pinned can pass their Shield through without an extra pin and unpin,
// while callers that are not pinned hand over a fresh one.
type CowShield struct {
	shield *Shield
	owned  bool
}

// OwnedCowShield wraps a Shield whose release is the holder's
// responsibility.
func OwnedCowShield(s *Shield) CowShield {
	return CowShield{shield: s, owned: true}
}

// BorrowedCowShield wraps a Shield released by someone else.
func BorrowedCowShield(s *Shield) CowShield {
	return CowShield{shield: s}
}

// IsOwned reports whether the wrapped Shield is owned.
func (c CowShield) IsOwned() bool {
	return c.owned
}

// Get returns the wrapped Shield for read-only use. The caller must not
// release it.
func (c CowShield) Get() *Shield {
	return c.shield
}

// IntoOwned returns a Shield the caller must release. A borrowed Shield is
// cloned; an owned one is handed over as is.
func (c CowShield) IntoOwned() *Shield {
	if c.owned {
		return c.shield
	}
	return c.shield.Clone()
}

// Clone returns an owned CowShield pinning the same goroutine.
func (c CowShield) Clone() CowShield {
	return OwnedCowShield(c.shield.Clone())
}

// Release releases the wrapped Shield if it is owned. It does nothing for a
// borrowed one.
func (c CowShield) Release() {
	if c.owned {
		c.shield.Release()
	}
}

package metrics

import "testing"

func TestRegister(t *testing.T) {
	// Register panics on duplicate collectors, so a single call in the
	// whole test binary has to succeed.
	Register()
}

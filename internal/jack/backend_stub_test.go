//go:build !jack

package jack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStubBackend(t *testing.T) {
	b := NewBackend()
	assert.Equal(t, ProbeNotRunning, b.Probe("akm"))

	_, _, err := b.Open("akm")
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	d := New(b)
	assert.ErrorIs(t, d.Connect("akm"), ErrServerNotRunning)
}

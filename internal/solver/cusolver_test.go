//go:build cuda
// +build cuda

package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCUSOLVER_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		l := NewCUSOLVER(nil)
		assert.NotNil(t, l.logger)
	})
}

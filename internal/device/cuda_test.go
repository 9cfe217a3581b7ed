//go:build cuda
// +build cuda

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCUDA_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		c, err := NewCUDA(nil)
		if err != nil {
			assert.ErrorIs(t, err, ErrUnavailable)
			return
		}
		assert.NotNil(t, c.logger)
	})
}

package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	err := errors.New("connection refused")
	attr := Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "connection refused", attr.Value.String())
}

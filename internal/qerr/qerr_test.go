package qerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"configuration", Configuration("table %q", "orders"), ErrConfiguration},
		{"not found", NotFound("fk %q", "fk_customer"), ErrNotFound},
		{"state", State("no columns selected"), ErrState},
		{"unsupported", Unsupported("relocate phantom"), ErrUnsupported},
		{"ambiguous", Ambiguous("two paths"), ErrAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Equal(t, tt.kind, Kind(fmt.Errorf("outer: %w", tt.err)))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrConfiguration, cause, "load table %s", "orders")

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "configuration error: load table orders: connection refused", err.Error())
}

func TestKindUnclassified(t *testing.T) {
	assert.Nil(t, Kind(errors.New("plain")))
	assert.Nil(t, Kind(nil))
}

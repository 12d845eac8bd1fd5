package resend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(fixmsgtest.ResendRequest(1, "5", "8"))
	require.NoError(t, err)
	assert.Equal(t, Request{Begin: 5, End: 8}, req)
	assert.False(t, req.Empty())
	assert.Equal(t, "5..8", req.String())

	req, err = ParseRequest(fixmsgtest.ResendRequest(1, "10", "9"))
	require.NoError(t, err)
	assert.True(t, req.Empty())

	req, err = ParseRequest(fixmsgtest.ResendRequest(1, "18446744073709551615", "18446744073709551615"))
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), req.End)
}

func TestParseRequestRejectsBadFields(t *testing.T) {
	tests := []struct {
		name       string
		begin, end string
		cause      error
	}{
		{"missing begin", "", "8", fixmsg.ErrMissingField},
		{"missing end", "5", "", fixmsg.ErrMissingField},
		{"non numeric begin", "five", "8", fixmsg.ErrInvalidField},
		{"negative end", "5", "-1", fixmsg.ErrInvalidField},
		{"overflowing begin", "18446744073709551616", "8", fixmsg.ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(fixmsgtest.ResendRequest(1, tt.begin, tt.end))
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

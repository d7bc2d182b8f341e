package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdmitReply(t *testing.T) {
	status, count, ttl, err := parseAdmitReply([]interface{}{int64(2), int64(1), int64(43200)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), status)
	assert.Equal(t, 1, count)
	assert.Equal(t, 43200, ttl)
}

func TestParseAdmitReplyMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
	}{
		{"not a slice", "OK"},
		{"nil", nil},
		{"wrong length", []interface{}{int64(1), int64(2)}},
		{"string status", []interface{}{"1", int64(2), int64(3)}},
		{"string count", []interface{}{int64(1), "2", int64(3)}},
		{"string ttl", []interface{}{int64(1), int64(2), "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := parseAdmitReply(tt.raw)
			assert.Error(t, err)
		})
	}
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroupID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "number", raw: `42`, want: 42},
		{name: "numeric string", raw: `"7"`, want: 7},
		{name: "padded string", raw: `" 9 "`, want: 9},
		{name: "zero", raw: `0`, wantErr: true},
		{name: "negative", raw: `-3`, wantErr: true},
		{name: "fraction", raw: `1.5`, wantErr: true},
		{name: "word", raw: `"general"`, wantErr: true},
		{name: "object", raw: `{"id":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupID(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	frame, err := EncodeEvent(EventMessageError, ErrorPayload{Error: "not a member of this group"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"event":"message_error","data":{"error":"not a member of this group"}}`, string(frame))
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJobSpec(t *testing.T) {
	five := 5

	tests := []struct {
		name string
		arg  string
		want jobSpec
	}{
		{
			name: "json spec",
			arg:  `{"id":"job1","command":"sleep 2"}`,
			want: jobSpec{ID: "job1", Command: "sleep 2"},
		},
		{
			name: "json spec with max retries",
			arg:  `{"command":"echo hi","max_retries":5}`,
			want: jobSpec{Command: "echo hi", MaxRetries: &five},
		},
		{
			name: "plain command",
			arg:  "echo hello",
			want: jobSpec{Command: "echo hello"},
		},
		{
			name: "json without command falls back to plain",
			arg:  `{"id":"job1"}`,
			want: jobSpec{Command: `{"id":"job1"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseJobSpec(tt.arg)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Command, got.Command)
			if tt.want.MaxRetries != nil {
				assert.NotNil(t, got.MaxRetries)
				assert.Equal(t, *tt.want.MaxRetries, *got.MaxRetries)
			} else {
				assert.Nil(t, got.MaxRetries)
			}
		})
	}
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 10))
	assert.Equal(t, "exactly-10", shorten("exactly-10", 10))
	assert.Equal(t, "long-st...", shorten("long-string-here", 10))
}

package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []JSONOption
		fail     bool
	}{
		{
			name:     "extra keys ignored by default",
			actual:   `{"state":"open","position":100,"unique_id":"x"}`,
			expected: `{"state":"open","position":100}`,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"device":{"identifiers":["blind_aabb"],"name":"Study"}}`,
			expected: `{"device":{"identifiers":"<<PRESENCE>>","name":"Study"}}`,
		},
		{
			name:     "value mismatch reported",
			actual:   `{"position":40}`,
			expected: `{"position":60}`,
			fail:     true,
		},
		{
			name:     "extra keys reported when strict",
			actual:   `{"position":40,"tilt":10}`,
			expected: `{"position":40}`,
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			fail:     true,
		},
		{
			name:     "ignored field",
			actual:   `{"position":40,"ts":"now"}`,
			expected: `{"position":40,"ts":"later"}`,
			opts:     []JSONOption{WithIgnoredFields("ts")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.fail {
				assert.NotEmpty(t, rec.errors, "mismatch MUST be reported")
			} else {
				assert.Empty(t, rec.errors, "equal documents MUST pass")
			}
		})
	}
}

func TestTextAsserter(t *testing.T) {
	t.Run("trailing whitespace and ANSI colours ignored", func(t *testing.T) {
		rec := &recordingT{}
		green := color.New(color.FgGreen)
		green.EnableColor()

		NewTextAsserter(rec).Assert("Position: "+green.Sprint("40%")+"   \nBattery: 80%\n", "Position: 40%\nBattery: 80%")

		assert.Empty(t, rec.errors)
	})

	t.Run("mismatch produces unified diff", func(t *testing.T) {
		rec := &recordingT{}

		NewTextAsserter(rec).Assert("Position: 41%", "Position: 40%")

		if assert.Len(t, rec.errors, 1) {
			assert.True(t, strings.Contains(rec.errors[0], "-Position: 40%"), "diff MUST show the expected line")
			assert.True(t, strings.Contains(rec.errors[0], "+Position: 41%"), "diff MUST show the actual line")
		}
	})
}

package testutils

import (
	"testing"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	if !opts.IgnoreExtraKeys {
		t.Error("IgnoreExtraKeys should default to true")
	}
	if !opts.AllowPresencePlaceholder {
		t.Error("AllowPresencePlaceholder should default to true")
	}
	if len(opts.IgnoredFields) != 0 {
		t.Error("IgnoredFields should default to empty slice")
	}
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		actual    string
		expected  string
		wantMatch bool
	}{
		{
			name:      "extra keys are ignored",
			actual:    `{"type":"imu","ts":"2026-01-01T00:00:00Z","gyro":[1,2,3]}`,
			expected:  `{"type":"imu","gyro":[1,2,3]}`,
			wantMatch: true,
		},
		{
			name:      "extra keys count when not ignored",
			opts:      []Option{WithIgnoreExtraKeys(false)},
			actual:    `{"type":"imu","ts":"x"}`,
			expected:  `{"type":"imu"}`,
			wantMatch: false,
		},
		{
			name:      "presence placeholder matches any value",
			actual:    `{"type":"emg","samples":[1,2,3,4,5,6,7,8]}`,
			expected:  `{"type":"emg","samples":"<<PRESENCE>>"}`,
			wantMatch: true,
		},
		{
			name:      "presence placeholder still requires the key",
			actual:    `{"type":"emg"}`,
			expected:  `{"type":"emg","samples":"<<PRESENCE>>"}`,
			wantMatch: false,
		},
		{
			name:      "ignored fields are dropped at every level",
			opts:      []Option{WithIgnoreExtraKeys(false), WithIgnoredFields("ts")},
			actual:    `{"ts":1,"event":{"ts":2,"pose":"fist"}}`,
			expected:  `{"ts":9,"event":{"pose":"fist"}}`,
			wantMatch: true,
		},
		{
			name:      "root arrays are compared",
			actual:    `[1,2]`,
			expected:  `[1,3]`,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ja := NewJSONAsserter(&recordingT{}).WithOptions(tt.opts...)
			diff := ja.diff(tt.actual, tt.expected)
			if tt.wantMatch && diff != "" {
				t.Errorf("Expected match, got diff:\n%s", diff)
			}
			if !tt.wantMatch && diff == "" {
				t.Error("Expected a diff")
			}
		})
	}
}

func TestJSONAsserter_AssertLines(t *testing.T) {
	rec := &recordingT{}
	ja := NewJSONAsserter(rec)

	ja.AssertLines("{\"a\":1}\n{\"b\":2}\n", "{\"a\":1}\n{\"b\":2}")
	if len(rec.errors) != 0 {
		t.Fatalf("Expected matching records, got %v", rec.errors)
	}

	ja.AssertLines("{\"a\":1}\n", "{\"a\":1}\n{\"b\":2}")
	if len(rec.errors) != 1 {
		t.Fatalf("Expected a record count failure, got %v", rec.errors)
	}
}

package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/t-kalinowski/positron/core/config"
)

type durations struct {
	Delay config.Duration `json:"delay" yaml:"delay"`
}

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", input: `{"delay":"250ms"}`, want: 250 * time.Millisecond},
		{name: "nanoseconds", input: `{"delay":1000}`, want: time.Microsecond},
		{name: "bad string", input: `{"delay":"soon"}`, wantErr: true},
		{name: "bad type", input: `{"delay":true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got durations
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Delay.Std())
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	var got durations
	require.NoError(t, yaml.Unmarshal([]byte("delay: 2s\n"), &got))
	assert.Equal(t, 2*time.Second, got.Delay.Std())

	require.NoError(t, yaml.Unmarshal([]byte("delay: 5\n"), &got))
	assert.Equal(t, 5*time.Nanosecond, got.Delay.Std())

	assert.Error(t, yaml.Unmarshal([]byte("delay: [1, 2]\n"), &got))
}

func TestDuration_Marshal(t *testing.T) {
	data, err := json.Marshal(durations{Delay: config.Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"delay":"1.5s"}`, string(data))

	out, err := yaml.Marshal(durations{Delay: config.Duration(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "delay: 1m0s\n", string(out))
}

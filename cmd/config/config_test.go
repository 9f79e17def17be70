package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantCfg *Config
	}{
		{
			name: "defaults (no env set)",
			env:  map[string]string{},
			wantCfg: &Config{
				Port:                 10001,
				RelayURL:             "ws://localhost:10001/ws",
				DevtoolsURL:          "ws://localhost:9222/devtools/browser",
				ViewportWidth:        1280,
				ViewportHeight:       720,
				MaxReconnectAttempts: 5,
				ReconnectDelay:       2 * time.Second,
				ResizeDebounce:       250 * time.Millisecond,
			},
		},
		{
			name: "custom valid env",
			env: map[string]string{
				"PORT":                   "12345",
				"RELAY_URL":              "ws://relay.internal/ws",
				"PAGE_URL":               "https://meet.example.com/standup-42",
				"VIEWPORT_WIDTH":         "800",
				"VIEWPORT_HEIGHT":        "600",
				"MAX_RECONNECT_ATTEMPTS": "3",
				"RECONNECT_DELAY":        "500ms",
			},
			wantCfg: &Config{
				Port:                 12345,
				RelayURL:             "ws://relay.internal/ws",
				DevtoolsURL:          "ws://localhost:9222/devtools/browser",
				PageURL:              "https://meet.example.com/standup-42",
				ViewportWidth:        800,
				ViewportHeight:       600,
				MaxReconnectAttempts: 3,
				ReconnectDelay:       500 * time.Millisecond,
				ResizeDebounce:       250 * time.Millisecond,
			},
		},
		{
			name: "missing relay url (set to empty)",
			env: map[string]string{
				"RELAY_URL": "",
			},
			wantErr: true,
		},
		{
			name: "zero viewport width",
			env: map[string]string{
				"VIEWPORT_WIDTH": "0",
			},
			wantErr: true,
		},
		{
			name: "negative reconnect attempts",
			env: map[string]string{
				"MAX_RECONNECT_ATTEMPTS": "-1",
			},
			wantErr: true,
		},
		{
			name: "zero resize debounce",
			env: map[string]string{
				"RESIZE_DEBOUNCE": "0s",
			},
			wantErr: true,
		},
	}

	for idx := range testCases {
		tc := testCases[idx]
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				require.Equal(t, tc.wantCfg, cfg)
			}
		})
	}
}

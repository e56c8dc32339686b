package connection

import (
	"errors"
	"testing"
)

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      string
		origin   string
		path     string
		want     string
		wantErr  bool
	}{
		{
			name:     "explicit wins",
			explicit: "ws://explicit:1/ws",
			env:      "ws://env:2/ws",
			origin:   "http://origin:3",
			path:     "/ws/quotes",
			want:     "ws://explicit:1/ws",
		},
		{
			name:   "env beats origin",
			env:    "wss://env.example.com/stream",
			origin: "http://origin:3",
			path:   "/ws/quotes",
			want:   "wss://env.example.com/stream",
		},
		{
			name:   "http origin maps to ws",
			origin: "http://localhost:5173",
			path:   "/ws/quotes",
			want:   "ws://localhost:5173/ws/quotes",
		},
		{
			name:   "https origin maps to wss",
			origin: "https://app.example.com/dashboard?x=1",
			path:   "/ws/quotes",
			want:   "wss://app.example.com/ws/quotes",
		},
		{
			name:   "path without slash",
			origin: "http://localhost:4000",
			path:   "ws/quotes",
			want:   "ws://localhost:4000/ws/quotes",
		},
		{
			name:     "whitespace explicit ignored",
			explicit: "   ",
			origin:   "http://localhost:4000",
			path:     "/ws/quotes",
			want:     "ws://localhost:4000/ws/quotes",
		},
		{
			name:    "unsupported scheme",
			origin:  "ftp://files",
			path:    "/ws/quotes",
			wantErr: true,
		},
		{
			name:    "nothing configured",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(tt.explicit, tt.env, tt.origin, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveURL() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveURL_NoEndpoint(t *testing.T) {
	_, err := ResolveURL("", "", "", "/ws/quotes")
	if !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("err = %v, want ErrNoEndpoint", err)
	}
}

func TestManager_ResolveURLFromEnv(t *testing.T) {
	t.Setenv("QUOTE_STREAM_URL_TEST", "ws://from-env:9/ws/quotes")

	cfg := DefaultManagerConfig()
	cfg.URLEnv = "QUOTE_STREAM_URL_TEST"
	cfg.Origin = "http://localhost:4000"

	m := NewManager(cfg, nil, nil)
	got, err := m.ResolveURL()
	if err != nil {
		t.Fatalf("ResolveURL() error = %v", err)
	}
	if got != "ws://from-env:9/ws/quotes" {
		t.Errorf("ResolveURL() = %q", got)
	}
}

package session

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 45*time.Second {
		t.Errorf("Expected default timeout 45s, got %v", cfg.Timeout)
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		t.Error("Expected default per-host idle pool to be positive")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "default_config",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "custom_timeout",
			cfg: Config{
				Timeout:             20 * time.Second,
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     time.Minute,
			},
			wantErr: false,
		},
		{
			name:    "zero_timeout",
			cfg:     Config{Timeout: 0},
			wantErr: true,
		},
		{
			name:    "negative_idle_per_host",
			cfg:     Config{Timeout: time.Second, MaxIdleConnsPerHost: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client.Timeout != tt.cfg.Timeout {
				t.Errorf("Expected timeout %v, got %v", tt.cfg.Timeout, client.Timeout)
			}

			transport, ok := client.Transport.(*http.Transport)
			if !ok {
				t.Fatalf("Expected *http.Transport, got %T", client.Transport)
			}
			if transport.MaxIdleConnsPerHost != tt.cfg.MaxIdleConnsPerHost {
				t.Errorf("Expected MaxIdleConnsPerHost %d, got %d",
					tt.cfg.MaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
			}
		})
	}
}

func TestMustNewPanicsOnInvalidConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected MustNew to panic on zero timeout")
		}
	}()
	MustNew(Config{})
}

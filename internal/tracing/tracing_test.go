package tracing

import (
	"context"
	"testing"

	"github.com/moolen/boxfixer/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.TracingConfig
		expectError bool
		enabled     bool
	}{
		{
			name: "disabled",
			cfg:  config.TracingConfig{Endpoint: "localhost:4317"},
		},
		{
			name:        "enabled without endpoint",
			cfg:         config.TracingConfig{Enabled: true},
			expectError: true,
		},
		{
			name:    "TLS with insecure skip verify",
			cfg:     config.TracingConfig{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
			enabled: true,
		},
		{
			name:        "TLS with missing CA certificate",
			cfg:         config.TracingConfig{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/path/to/ca.crt"},
			expectError: true,
		},
		{
			name:    "no TLS",
			cfg:     config.TracingConfig{Enabled: true, Endpoint: "localhost:4317"},
			enabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := New(context.Background(), tt.cfg, "test")
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if provider.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", provider.Enabled(), tt.enabled)
			}
			if provider.Tracer("agent") == nil {
				t.Error("Tracer returned nil")
			}
			if err := provider.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown: %v", err)
			}
		})
	}
}

func TestNilProviderIsDisabled(t *testing.T) {
	var p *Provider
	if p.Enabled() {
		t.Error("nil provider reports enabled")
	}
	if p.Tracer("x") == nil {
		t.Error("nil provider returned nil tracer")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

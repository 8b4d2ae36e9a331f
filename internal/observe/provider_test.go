package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// restoreGlobals puts the global providers back after InitProvider replaced
// them.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestInitProvider_Exposition(t *testing.T) {
	restoreGlobals(t)

	tel, err := InitProvider(t.Context(), ProviderConfig{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordUtterance(t.Context(), "silence", 1.5)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"voxturn_utterances",
		`voxturn_build_info{goversion=`,
		`version="1.2.3"`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestInitProvider_SampleRatio(t *testing.T) {
	tests := []struct {
		ratio   float64
		wantErr bool
	}{
		{ratio: 0},
		{ratio: 0.25},
		{ratio: 1},
		{ratio: -0.1, wantErr: true},
		{ratio: 1.5, wantErr: true},
	}
	for _, tt := range tests {
		restoreGlobals(t)
		tel, err := InitProvider(t.Context(), ProviderConfig{SampleRatio: tt.ratio})
		if (err != nil) != tt.wantErr {
			t.Errorf("ratio %v: err = %v, wantErr %v", tt.ratio, err, tt.wantErr)
		}
		if tel != nil {
			_ = tel.Shutdown(context.Background())
		}
	}
}

func TestInitProvider_SharedRegistryConflicts(t *testing.T) {
	restoreGlobals(t)
	reg := prometheus.NewRegistry()

	tel, err := InitProvider(t.Context(), ProviderConfig{Registry: reg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if _, err := InitProvider(t.Context(), ProviderConfig{Registry: reg}); err == nil {
		t.Fatal("expected duplicate registration error, got nil")
	}
}

func TestTelemetry_ShutdownIdempotent(t *testing.T) {
	restoreGlobals(t)
	tel, err := InitProvider(t.Context(), ProviderConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

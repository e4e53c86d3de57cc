package metrics

import (
	"testing"
)

// gatheredValue returns the counter or gauge value of the named family whose
// labels include all of want, and whether it was found.
func gatheredValue(t *testing.T, m *Metrics, name string, want map[string]string) (float64, bool) {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
				}
			}
			if !match {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue(), true
			}
			return metric.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Verify our custom metrics exist by incrementing one and gathering again.
	m.RequestsTotal.WithLabelValues("GET", "200", "/api/v3").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "market_relay_http_requests_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected market_relay_http_requests_total in gathered metrics")
	}
}

func TestNew_RelayCollectors(t *testing.T) {
	m := New()

	m.PairsActive.Inc()
	m.PairsActive.Inc()
	m.PairsActive.Dec()
	m.PairsOpened.Inc()
	m.UpgradesRejected.Inc()
	m.MessagesForwarded.WithLabelValues(DirectionDownstream).Add(3)
	m.MessagesDropped.WithLabelValues(DirectionUpstream).Inc()

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"market_relay_stream_pairs_active", nil, 1},
		{"market_relay_stream_pairs_opened_total", nil, 1},
		{"market_relay_stream_upgrades_rejected_total", nil, 1},
		{"market_relay_stream_messages_forwarded_total", map[string]string{"direction": DirectionDownstream}, 3},
		{"market_relay_stream_messages_dropped_total", map[string]string{"direction": DirectionUpstream}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := gatheredValue(t, m, tt.name, tt.labels)
			if !ok {
				t.Fatalf("metric %s not gathered", tt.name)
			}
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v3/ticker/price", "/api/v3"},
		{"/api/v1/klines", "/api/v1"},
		{"/api/v3", "/api/v3"},
		{"/api/v5/foo", "/api"},
		{"/api", "/api"},
		{"/healthz", "/healthz"},
		{"/relay/status", "/relay/status"},
		{"/metrics", "/metrics"},
		{"/apiary", "other"},
		{"/unknown", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

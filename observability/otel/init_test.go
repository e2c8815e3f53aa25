package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer x, ,bad,tenant = market ,=skip")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if headers["authorization"] != "Bearer x" || headers["tenant"] != "market" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "p2pmarketd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Tracer() == nil {
		t.Fatalf("expected tracer")
	}
}

func TestResourceCarriesMarketAttributes(t *testing.T) {
	res, err := Resource(Config{
		ServiceName: "p2pmarketd",
		Version:     "1.2.0",
		InstanceID:  "node-1",
		Market: MarketResource{
			StorageBackend: "bolt",
			Journal:        true,
		},
	})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"service.name":           "p2pmarketd",
		"service.version":        "1.2.0",
		"service.instance.id":    "node-1",
		"market.storage.backend": "bolt",
		"market.journal.enabled": "true",
		"market.webhook.enabled": "false",
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, got[key], value)
		}
	}
	if _, ok := got["market.vault"]; ok {
		t.Fatalf("empty vault should not be exported")
	}
}

func TestResourceGeneratesInstanceID(t *testing.T) {
	res, err := Resource(Config{ServiceName: "p2pmarketd"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	for _, kv := range res.Attributes() {
		if kv.Key == "service.instance.id" && kv.Value.Emit() != "" {
			return
		}
	}
	t.Fatalf("expected a generated instance id")
}

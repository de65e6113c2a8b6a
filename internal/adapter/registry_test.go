package adapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/adapter/sqlite"
)

func TestRegistryResolvesRegisteredBackend(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register("sqlite", sqlite.New)

	a, err := reg.New("sqlite")
	if err != nil {
		t.Fatalf("New(sqlite): %v", err)
	}
	if got := a.BackendType(); got != "sqlite" {
		t.Errorf("BackendType = %q, want %q", got, "sqlite")
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register("sqlite", sqlite.New)

	_, err := reg.New("oracle")
	if err == nil {
		t.Fatal("expected error for unregistered backend")
	}
	if !errors.Is(err, adapter.ErrUnsupportedBackend) {
		t.Errorf("error = %v, want ErrUnsupportedBackend", err)
	}
}

func TestRegistryOpenConnects(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register("sqlite", sqlite.New)

	a, err := reg.Open(adapter.ConnectionConfig{
		Backend: "sqlite",
		DSN:     t.TempDir() + "/open.sqlite",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Disconnect()

	if err := a.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

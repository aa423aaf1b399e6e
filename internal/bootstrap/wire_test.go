package bootstrap

import (
	"testing"

	"github.com/rs/zerolog"

	"hotline/internal/domain"
)

type noopSink struct{}

func (noopSink) StateChanged(domain.SessionState) {}

func TestBuildAssemblesServices(t *testing.T) {
	// Keep the initial reachability probe local and fast.
	t.Setenv("HOTLINE_PROBE_ADDR", "127.0.0.1:1")
	t.Setenv("HOTLINE_PROBE_TIMEOUT_MS", "50")
	t.Setenv("HOTLINE_ROOM_URL", "wss://rooms.test")

	services, err := Build(noopSink{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Manager.Close()

	if services.Manager == nil {
		t.Fatalf("expected a wired connection manager")
	}
	if services.Config.Room.URL != "wss://rooms.test" {
		t.Fatalf("config not threaded through: %q", services.Config.Room.URL)
	}

	state := services.Manager.State()
	if state.Status != domain.StatusIdle {
		t.Fatalf("unexpected initial status: %s", state.Status)
	}
}

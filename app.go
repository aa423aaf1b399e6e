package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"hotline/internal/bootstrap"
	"hotline/internal/config"
	"hotline/internal/domain"
	"hotline/internal/usecase"
)

const (
	eventState = "hotline:state"
	eventError = "hotline:error"
)

// App is the Wails application root. It implements ports.StateSink and
// relays every session snapshot to the frontend.
type App struct {
	ctx context.Context

	manager *usecase.ConnectionManager
	cfg     config.Config
	log     zerolog.Logger
	bootErr error
}

func NewApp() *App {
	return &App{
		log: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a.log)
	if err != nil {
		a.bootErr = err
		a.emitError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.manager = services.Manager
	a.StateChanged(a.manager.State())
}

func (a *App) shutdown(_ context.Context) {
	if a.manager != nil {
		a.manager.Close()
	}
}

// Connect joins a room. An empty url falls back to the configured server.
func (a *App) Connect(url string, token string) (domain.SessionState, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionState{}, err
	}
	if strings.TrimSpace(url) == "" {
		url = a.cfg.Room.URL
	}
	if err := a.manager.Connect(a.ctx, url, token); err != nil {
		return a.manager.State(), err
	}
	return a.manager.State(), nil
}

// Disconnect leaves the room, keeping transcript history and credentials.
func (a *App) Disconnect() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.manager.Disconnect()
	return nil
}

// ResetSession leaves the room and clears history, artifacts and
// credentials.
func (a *App) ResetSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.manager.Reset()
	return nil
}

// ToggleMute flips the microphone mute overlay.
func (a *App) ToggleMute() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.manager.ToggleMute(), nil
}

// TryReconnect is the manual retry affordance after a terminal error.
func (a *App) TryReconnect() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.manager.TryReconnect()
	return nil
}

// Resume is called when the app returns to the foreground.
func (a *App) Resume() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.manager.Resume()
	return nil
}

// GetState returns the current session snapshot.
func (a *App) GetState() domain.SessionState {
	if a.manager == nil {
		state := domain.SessionState{Status: domain.StatusIdle}
		if a.bootErr != nil {
			state.Status = domain.StatusError
			state.ErrorCode = domain.ErrorCodeStartup
			state.ErrorMessage = a.bootErr.Error()
		}
		return state
	}
	return a.manager.State()
}

// CopyTranscript writes the finalized conversation into the clipboard.
func (a *App) CopyTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}

	text := formatTranscript(a.manager.State().Transcript)
	if text == "" {
		return fmt.Errorf("no transcript to copy")
	}
	if err := runtime.ClipboardSetText(a.ctx, text); err != nil {
		a.emitError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"roomUrl":         a.cfg.Room.URL,
		"transcriptLimit": fmt.Sprintf("%d", a.cfg.Session.TranscriptLimit),
		"maxReconnects":   fmt.Sprintf("%d", a.cfg.Session.MaxReconnects),
		"probeAddr":       a.cfg.Network.ProbeAddr,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.manager == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged emits the session snapshot to the frontend.
func (a *App) StateChanged(state domain.SessionState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, state)
}

func (a *App) emitError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func formatTranscript(entries []domain.TranscriptEntry) string {
	var b strings.Builder
	for _, entry := range entries {
		if !entry.IsFinal {
			continue
		}
		speaker := "You"
		if entry.Role == domain.RoleAgent {
			speaker = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, entry.Text)
	}
	return strings.TrimSpace(b.String())
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone access is required"
	case domain.ErrorCodeConnect:
		return "Could not connect to the room"
	case domain.ErrorCodeReconnect:
		return "Reconnect failed"
	case domain.ErrorCodeProtocol:
		return "Received malformed data"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"hotline/internal/config"
	"hotline/internal/devmon"
	"hotline/internal/netmon"
	"hotline/internal/ports"
	"hotline/internal/providers/roomws"
	"hotline/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Manager *usecase.ConnectionManager
	Config  config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(sink ports.StateSink, log zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	transport := roomws.NewTransport(roomws.Config{
		JoinTimeout:     cfg.Room.JoinTimeout,
		CheckMicrophone: checkMicrophone,
	}, log)

	network := netmon.New(netmon.Config{
		ProbeAddr:    cfg.Network.ProbeAddr,
		Interval:     cfg.Network.ProbeInterval,
		ProbeTimeout: cfg.Network.ProbeTimeout,
	}, log)

	devices := devmon.New(log)

	manager := usecase.NewConnectionManager(transport, network, devices, sink, log, usecase.Config{
		TranscriptLimit: cfg.Session.TranscriptLimit,
		MaxReconnects:   cfg.Session.MaxReconnects,
		LevelThreshold:  cfg.Session.LevelThreshold,
		LevelInterval:   cfg.Session.LevelInterval,
		SettleDelay:     cfg.Session.SettleDelay,
		DeviceDebounce:  cfg.Session.DeviceDebounce,
		SubtitleClear:   cfg.Session.SubtitleClear,
	})

	return Services{Manager: manager, Config: cfg}, nil
}

// checkMicrophone verifies an audio capture device is visible before any
// connection is attempted.
func checkMicrophone(_ context.Context) error {
	if _, err := os.Stat("/dev/snd"); err != nil {
		return fmt.Errorf("no audio devices available: %w", err)
	}
	return nil
}

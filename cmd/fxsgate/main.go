package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/fxsgate/internal/banner"
	"github.com/sebas/fxsgate/internal/config"
	"github.com/sebas/fxsgate/internal/dialplan"
	"github.com/sebas/fxsgate/internal/gateway"
	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/sebas/fxsgate/internal/line"
	"github.com/sebas/fxsgate/internal/logger"
	"github.com/sebas/fxsgate/internal/media"
	"github.com/sebas/fxsgate/internal/monitor"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("Failed to open log file", "path", cfg.LogFile, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.InitLoggerWithLevels(map[io.Writer]slog.Level{
			os.Stdout: logger.ParseLevel(cfg.LogLevel),
			f:         slog.LevelInfo,
		})
	} else {
		logger.InitLogger(os.Stdout)
	}
	logger.SetLevel(cfg.LogLevel)

	lineCodec, ok := media.ByName(codecName(cfg.LineCodec))
	if !ok {
		slog.Error("Unknown line codec", "codec", cfg.LineCodec)
		os.Exit(1)
	}

	// Print startup banner
	banner.Print("FXS LINE GATEWAY", []banner.ConfigLine{
		{Label: "SIP Listen", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "Channels", Value: fmt.Sprintf("%d", cfg.Channels)},
		{Label: "Line Codec", Value: lineCodec.Name},
		{Label: "Interdigit", Value: cfg.InterdigitTimeout.String()},
		{Label: "Dialplan", Value: cfg.DialplanPath},
		{Label: "Log Level", Value: cfg.LogLevel},
	})

	if !cfg.Simulate {
		slog.Error("No hardware backend in this build, run with -simulate")
		os.Exit(1)
	}
	dev := hardware.NewSimDevice(cfg.Channels)

	dp, err := dialplan.New(cfg.DialplanPath, slog.Default())
	if err != nil {
		slog.Error("Failed to load dialplan", "path", cfg.DialplanPath, "error", err)
		os.Exit(1)
	}

	ctrl, err := line.New(line.Config{
		Device:            dev,
		Dialplan:          dp,
		InterdigitTimeout: cfg.InterdigitTimeout,
		PerPortContext:    cfg.PerPortContext,
		Logger:            slog.Default(),
	})
	if err != nil {
		slog.Error("Failed to create line controller", "error", err)
		os.Exit(1)
	}

	gw, err := gateway.New(gateway.Config{
		Port:          cfg.Port,
		BindAddr:      cfg.BindAddr,
		AdvertiseAddr: cfg.AdvertiseAddr,
		LineCodec:     lineCodec,
	}, ctrl, dp, slog.Default())
	if err != nil {
		slog.Error("Failed to create gateway", "error", err)
		os.Exit(1)
	}
	ctrl.SetSink(gw)

	run(cfg, dev, ctrl, gw, dp)
}

func run(cfg *config.Config, dev *hardware.SimDevice, ctrl *line.Controller, gw *gateway.Gateway, dp *dialplan.Dialplan) {
	mon := monitor.New(monitor.Config{
		Device:     dev,
		Dispatcher: ctrl,
		OnFatal: func(err error) {
			slog.Error("Event stream lost, exiting", "error", err)
			os.Exit(1)
		},
		Logger: slog.Default(),
	})
	mon.Start()
	gw.Start()

	slog.Info("FXS gateway started", "channels", cfg.Channels, "port", cfg.Port)

	// Wait for signals: SIGHUP reloads the dialplan, SIGINT/SIGTERM stop.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("Reloading dialplan", "path", cfg.DialplanPath)
			if err := dp.Reload(); err != nil {
				slog.Error("Dialplan reload failed", "error", err)
			}
			mon.Restart()
			continue
		}
		slog.Info("Received signal, shutting down", "signal", sig)
		break
	}

	// Shutdown order: stop new SIP work, end line sessions (sends the
	// BYEs), stop the event loop, then release sockets and the device.
	gw.Stop()
	ctrl.Shutdown()
	mon.Stop()
	gw.Close()
	dev.Close()

	slog.Info("FXS gateway stopped")
}

func codecName(pref string) string {
	switch pref {
	case "alaw":
		return "PCMA"
	default:
		return "PCMU"
	}
}

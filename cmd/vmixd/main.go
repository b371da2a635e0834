// Command vmixd runs the virtual audio mixer as a daemon. It restores the
// configured channels and routing rules, serves gRPC health checks, and tears
// every channel down on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/opd-ai/vmix"
	"github.com/opd-ai/vmix/config"
	"github.com/opd-ai/vmix/factory"
	"github.com/opd-ai/vmix/interfaces"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	serviceName     = "vmix.Mixer"
	restoreTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// clocked is implemented by subsystems that need an external callback clock.
type clocked interface {
	StartClock() error
	StopClock()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	configureLogging(cfg)

	logrus.WithFields(logrus.Fields{
		"function":    "main",
		"version":     version,
		"listen_addr": cfg.ListenAddr,
		"sample_rate": cfg.SampleRate,
		"channels":    cfg.Channels,
		"ns_model":    cfg.NoiseModel,
		"simulation":  cfg.UseSimulation,
	}).Info("Starting vmixd")

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logrus.WithError(err).Error("Failed to bind listener")
		os.Exit(1)
	}
	defer lis.Close()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	serverErr := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErr <- err
		}
	}()

	subsystem, err := newSubsystem(cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to create audio subsystem")
		os.Exit(1)
	}
	if c, ok := subsystem.(clocked); ok {
		if err := c.StartClock(); err != nil {
			logrus.WithError(err).Error("Failed to start simulation clock")
			os.Exit(1)
		}
		defer c.StopClock()
	}

	mixer, err := vmix.NewMixer(subsystem, cfg.Options())
	if err != nil {
		logrus.WithError(err).Error("Failed to create mixer")
		os.Exit(1)
	}
	restore(ctx, mixer, cfg)
	if err := mixer.Start(); err != nil {
		logrus.WithError(err).Error("Failed to start mixer")
		os.Exit(1)
	}

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
	logrus.WithFields(logrus.Fields{
		"function": "main",
		"channels": len(mixer.Channels()),
		"rules":    mixer.Rules().Len(),
	}).Info("vmixd ready")

	exitCode := 0
	select {
	case err := <-serverErr:
		logrus.WithError(err).Error("gRPC server terminated")
		exitCode = 1
	case <-ctx.Done():
		logrus.Info("Shutdown requested")
	}

	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mixer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Mixer shutdown incomplete")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logrus.Warn("Graceful stop timed out, forcing stop")
		grpcServer.Stop()
	}

	logrus.Info("vmixd stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func configureLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func newSubsystem(cfg config.Config) (interfaces.IAudioSubsystem, error) {
	f := factory.NewAudioSubsystemFactory()
	if err := f.UpdateConfig(cfg.SubsystemConfig()); err != nil {
		return nil, err
	}
	return f.CreateAudioSubsystem()
}

// restore brings back persisted channels and rules. A channel that fails to
// activate is skipped so the rest of the mixer still comes up; the mixer has
// already reported the failure.
func restore(ctx context.Context, mixer *vmix.Mixer, cfg config.Config) {
	if len(cfg.Rules) > 0 {
		mixer.Rules().Replace(cfg.Rules)
	}

	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	failed := 0
	for _, state := range cfg.InitialChannels {
		if _, err := mixer.RestoreChannel(ctx, state); err != nil {
			failed++
		}
	}
	if len(cfg.InitialChannels) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "restore",
			"restored": len(cfg.InitialChannels) - failed,
			"failed":   failed,
		}).Info("Channel restore finished")
	}
}

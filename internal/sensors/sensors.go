// Package sensors registers the robot's concrete runner types with a
// runner.Manager.
package sensors

import (
	"context"
	"fmt"
	"log/slog"

	"Solar/internal/runner"
	"Solar/internal/sensors/audio"
	"Solar/internal/sensors/camera"
	"Solar/internal/sensors/container"
	"Solar/internal/sensors/hostmon"
	"Solar/internal/sensors/power"
	"Solar/internal/sensors/ups"
)

// Deps carries the device adapters. Nil adapters fall back to simulated
// devices, or to the local host and Docker daemon for the system and docker
// types.
type Deps struct {
	Logger     *slog.Logger
	Production bool

	PowerSensor func() power.Sensor
	UPSBoard    func() ups.Board
	Player      func() audio.Player
	Camera      func() camera.Camera
	Sampler     hostmon.Sampler
	Docker      func(host string) (container.Inspector, error)
}

// RegisterAll registers every runner type.
func RegisterAll(mgr *runner.Manager, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sensors")

	simulated := func(typeName string) {
		if deps.Production {
			logger.Warn("no hardware adapter available, using simulated device", "type", typeName)
		}
	}

	factories := map[string]runner.Factory{
		power.TypeName: func(name string, s runner.Settings) (runner.Worker, error) {
			if deps.PowerSensor == nil {
				simulated(power.TypeName)
			}
			return power.New(name, s, deps.PowerSensor, logger)
		},
		ups.TypeName: func(name string, s runner.Settings) (runner.Worker, error) {
			if deps.UPSBoard == nil {
				simulated(ups.TypeName)
			}
			return ups.New(name, s, deps.UPSBoard, logger)
		},
		audio.TypeName: func(name string, s runner.Settings) (runner.Worker, error) {
			var p audio.Player
			if deps.Player != nil {
				p = deps.Player()
			}
			return audio.New(name, s, p, logger)
		},
		camera.TypeName: func(name string, s runner.Settings) (runner.Worker, error) {
			var cam camera.Camera
			if deps.Camera != nil {
				cam = deps.Camera()
			} else {
				simulated(camera.TypeName)
			}
			up, err := uploaderFor(s)
			if err != nil {
				return nil, err
			}
			return camera.New(name, s, cam, up, logger)
		},
		hostmon.TypeName: func(name string, s runner.Settings) (runner.Worker, error) {
			return hostmon.New(name, s, deps.Sampler, logger)
		},
		container.TypeName: func(name string, s runner.Settings) (runner.Worker, error) {
			return container.New(name, s, deps.Docker, logger)
		},
	}

	for _, typeName := range []string{power.TypeName, ups.TypeName, audio.TypeName, camera.TypeName, hostmon.TypeName, container.TypeName} {
		if err := mgr.RegisterType(typeName, factories[typeName]); err != nil {
			return fmt.Errorf("register %s: %w", typeName, err)
		}
	}
	return nil
}

// uploaderFor returns nil when the block has no s3_bucket.
func uploaderFor(s runner.Settings) (camera.Uploader, error) {
	var cfg camera.Config
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	up, err := camera.NewS3Uploader(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
	if err != nil {
		return nil, err
	}
	return up, nil
}

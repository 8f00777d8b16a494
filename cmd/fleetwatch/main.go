/*
 * Copyright 2025 VenueVision Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venuevision/fleetwatch/pkg/circuit"
	"github.com/venuevision/fleetwatch/pkg/config"
	"github.com/venuevision/fleetwatch/pkg/devices"
	"github.com/venuevision/fleetwatch/pkg/healthmon"
	"github.com/venuevision/fleetwatch/pkg/keepawake"
	"github.com/venuevision/fleetwatch/pkg/lifecycle"
	"github.com/venuevision/fleetwatch/pkg/logger"
	"github.com/venuevision/fleetwatch/pkg/metrics"
	"github.com/venuevision/fleetwatch/pkg/models"
	"github.com/venuevision/fleetwatch/pkg/store"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

const defaultDatabasePath = "/var/lib/fleetwatch/fleetwatch.db"

// fleetConfig is the daemon's top-level configuration file.
type fleetConfig struct {
	Logging       *logger.Config   `json:"logging,omitempty"`
	Database      string           `json:"database"`
	MetricsAddr   string           `json:"metrics_addr,omitempty"`
	Devices       []models.Device  `json:"devices,omitempty"`
	HealthMonitor healthmon.Config `json:"health_monitor"`
	KeepAwake     keepawake.Config `json:"keep_awake"`
}

// Validate implements config.Validator, filling in defaults.
func (c *fleetConfig) Validate() error {
	if c.Database == "" {
		c.Database = defaultDatabasePath
	}

	if err := c.HealthMonitor.Validate(); err != nil {
		return err
	}

	return c.KeepAwake.Validate()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetwatch/fleetwatch.json", "Path to config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg fleetConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	mainLogger, err := lifecycle.CreateComponentLogger("fleetwatch", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	deviceStore := store.NewDeviceStore(db)
	logStore := store.NewKeepAwakeLogStore(db)

	for i := range cfg.Devices {
		if err := deviceStore.Upsert(ctx, &cfg.Devices[i]); err != nil {
			return fmt.Errorf("failed to seed device %s: %w", cfg.Devices[i].ID, err)
		}
	}

	var registry *metrics.Registry
	if cfg.MetricsAddr != "" {
		registry = metrics.NewRegistry()
	}

	breakers := circuit.NewRegistry(mainLogger)
	factory := newBreakerFactory(tcpClientFactory{}, breakers, registry)

	manager := devices.NewManager(factory, mainLogger)
	defer manager.ReleaseAll()

	monitor := healthmon.InitShared(&cfg.HealthMonitor, deviceStore, manager, healthmon.NewRealClock(), mainLogger)
	monitor.SetMetrics(registry)

	scheduler := keepawake.New(&cfg.KeepAwake, deviceStore, logStore, manager, keepawake.NewRealClock(), mainLogger)
	scheduler.SetMetrics(registry)

	services := []lifecycle.Service{monitor, &schedulerService{scheduler: scheduler}}

	if cfg.MetricsAddr != "" {
		services = append(services, newMetricsServer(cfg.MetricsAddr, mainLogger))
	}

	mainLogger.Info().
		Str("database", cfg.Database).
		Int("devices", len(cfg.Devices)).
		Msg("Starting fleetwatch")

	return lifecycle.Run(ctx, mainLogger, services...)
}

// schedulerService adapts the keep-awake scheduler to the lifecycle shape.
type schedulerService struct {
	scheduler *keepawake.Scheduler
}

func (s *schedulerService) Start(ctx context.Context) error {
	if err := s.scheduler.InitializeSchedules(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return ctx.Err()
}

func (s *schedulerService) Stop(context.Context) error {
	s.scheduler.StopAll()

	return nil
}

// metricsServer exposes the Prometheus registry over HTTP.
type metricsServer struct {
	logger logger.Logger
	srv    *http.Server
}

func newMetricsServer(addr string, log logger.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &metricsServer{
		logger: log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *metricsServer) Start(context.Context) error {
	m.logger.Info().Str("addr", m.srv.Addr).Msg("Serving metrics")

	if err := m.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (m *metricsServer) Stop(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

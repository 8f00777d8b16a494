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

// Package lifecycle runs long-lived services with signal-driven shutdown.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/venuevision/fleetwatch/pkg/logger"
)

// DefaultShutdownTimeout bounds the stop phase during shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Service is a long-running component with distinct start and stop phases.
// Start blocks until the service ends; Stop asks it to end.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CreateLogger creates a logger from the provided configuration. A nil
// config uses defaults.
func CreateLogger(config *logger.Config) (logger.Logger, error) {
	if config == nil {
		config = logger.DefaultConfig()
	}

	return logger.New(config)
}

// CreateComponentLogger creates a logger scoped to one component.
func CreateComponentLogger(component string, config *logger.Config) (logger.Logger, error) {
	log, err := CreateLogger(config)
	if err != nil {
		return nil, err
	}

	return log.WithComponent(component), nil
}

// Run starts every service and blocks until SIGINT/SIGTERM, context
// cancellation, or the first Start error. Services are then stopped in
// reverse order under DefaultShutdownTimeout. The first error observed is
// returned.
func Run(ctx context.Context, log logger.Logger, services ...Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	errCh := make(chan error, len(services))

	for _, svc := range services {
		svc := svc

		go func() {
			if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	var runErr error

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		runErr = err

		log.Error().Err(err).Msg("Service failed; shutting down")
	case <-ctx.Done():
	}

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer stopCancel()

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Service stop failed")

			if runErr == nil {
				runErr = err
			}
		}
	}

	log.Info().Msg("Shutdown complete")

	return runErr
}

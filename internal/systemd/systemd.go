// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd reports service state to systemd using the sd_notify
// protocol. Outside of systemd every function is a no-op.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"go.astrophena.name/tgdrive/internal/cli"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state that sets the free-form status line shown by
// systemctl status.
func Status(format string, args ...any) State {
	return State("STATUS=" + fmt.Sprintf(format, args...))
}

// Notify sends states to the socket named by NOTIFY_SOCKET in the environment
// carried by ctx. Failures are logged to logger.
func Notify(ctx context.Context, logger *slog.Logger, states ...State) {
	name := cli.GetEnv(ctx).Getenv("NOTIFY_SOCKET")
	if name == "" {
		return
	}
	if err := notify(name, states); err != nil {
		logger.WarnContext(ctx, "systemd notify failed", "error", err)
	}
}

func notify(name string, states []State) error {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: name})
	if err != nil {
		return err
	}
	defer conn.Close()

	var msg []byte
	for i, s := range states {
		if i > 0 {
			msg = append(msg, '\n')
		}
		msg = append(msg, s...)
	}
	_, err = conn.Write(msg)
	return err
}

// WatchdogLoop periodically updates the systemd watchdog timestamp until ctx
// is canceled. It returns immediately if the watchdog is not enabled.
func WatchdogLoop(ctx context.Context, logger *slog.Logger) {
	usec := cli.GetEnv(ctx).Getenv("WATCHDOG_USEC")
	if usec == "" {
		return
	}
	interval, err := watchdogInterval(usec)
	if err != nil {
		logger.WarnContext(ctx, "systemd watchdog disabled", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Notify(ctx, logger, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

// watchdogInterval returns half of the watchdog timeout, as recommended by
// sd_watchdog_enabled(3).
func watchdogInterval(usec string) (time.Duration, error) {
	n, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(n) * time.Microsecond / 2, nil
}

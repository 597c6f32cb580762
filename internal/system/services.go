package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// serviceQueryTimeout bounds systemctl calls made only for reporting.
const serviceQueryTimeout = 5 * time.Second

// ServiceExists checks if a systemd service unit file exists
func ServiceExists(serviceName string) (bool, error) {
	locations := []string{
		filepath.Join("/etc/systemd/system", serviceName),
		filepath.Join("/usr/lib/systemd/system", serviceName),
		filepath.Join("/lib/systemd/system", serviceName),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return true, nil
		} else if !os.IsNotExist(err) {
			return false, fmt.Errorf("error checking service at %s: %w", location, err)
		}
	}

	return false, nil
}

// IsServiceActive checks if a service is currently active. Any non-zero
// exit from systemctl is treated as inactive.
func IsServiceActive(ctx context.Context, runner CommandRunner, serviceName string) bool {
	if !CommandExists("systemctl") {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, serviceQueryTimeout)
	defer cancel()

	_, err := runner.Run(ctx, nil, "systemctl", "is-active", "--quiet", serviceName)
	return err == nil
}

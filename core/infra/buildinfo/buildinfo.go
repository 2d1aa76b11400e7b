// Package buildinfo carries version identifiers stamped at build time via
// -ldflags and exposes them to logs and the health endpoint.
package buildinfo

import (
	"fmt"

	"github.com/relayloop/relayloop/core/infra/logging"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Fields returns the build identifiers for inclusion in JSON payloads.
func Fields() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}

// Log writes the build summary through the structured logger at startup.
func Log(service string) {
	logging.Info(service, "build", "version", Version, "commit", Commit, "date", Date)
}

package main

import (
	"fmt"
	"io"
	"strings"

	appErrors "extwatch/internal/errors"
	"extwatch/internal/rpc"
)

// handleDaemonCheckResult reports the outcome of the health probe and returns
// true when the command cannot continue.
func handleDaemonCheckResult(w io.Writer, addr string, health rpc.Health, err error) bool {
	if err != nil {
		if appErrors.IsCode(err, appErrors.CodePlatformUnavailable) {
			_, _ = fmt.Fprint(w, formatDaemonNotRunningMessage(addr))
			return true
		}
		_, _ = fmt.Fprintf(w, "Warning: daemon health check failed: %v\n", err)
		return false
	}
	if mismatch := formatVersionMismatchWarning(health.Version, Version); mismatch != "" {
		_, _ = fmt.Fprint(w, mismatch)
	}
	return false
}

func formatDaemonNotRunningMessage(addr string) string {
	if strings.TrimSpace(addr) == "" {
		addr = "the configured address"
	}
	return fmt.Sprintf(`Error: the extwatch daemon is not running

No daemon answered at %s.

Start it in another terminal or as a user service:
  extwatch daemon

If it listens elsewhere, point the CLI at it:
  extwatch --api host:port <command>

`, addr)
}

func formatVersionMismatchWarning(daemonVersion, cliVersion string) string {
	daemonVersion = strings.TrimSpace(daemonVersion)
	cliVersion = strings.TrimSpace(cliVersion)
	if daemonVersion == "" || cliVersion == "" || daemonVersion == cliVersion {
		return ""
	}
	if daemonVersion == "dev" || cliVersion == "dev" {
		return ""
	}
	return fmt.Sprintf("Warning: daemon version %s differs from CLI version %s; restart the daemon after upgrading\n",
		daemonVersion, cliVersion)
}

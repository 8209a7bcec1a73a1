// Package svc carries small helpers shared by the service binaries:
// version formatting and env-var conventions for CLI flags.
package svc

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var (
	Version   = "v0.0.0"
	GitCommit = ""
	GitDate   = ""
	Meta      = "dev"
)

func DefaultFormatVersion() string {
	return FormatVersion(Version, GitCommit, GitDate, Meta)
}

// FormatVersion joins the version with the abbreviated commit, date and
// build metadata, skipping empty parts.
func FormatVersion(version string, gitCommit string, gitDate string, meta string) string {
	v := version
	if gitCommit != "" {
		if len(gitCommit) >= 8 {
			v += "-" + gitCommit[:8]
		} else {
			v += "-" + gitCommit
		}
	}
	if gitDate != "" {
		v += "-" + gitDate
	}
	if meta != "" {
		v += "-" + meta
	}
	return v
}

// PrefixEnvVar returns the env var names for a flag, namespaced under the
// service prefix.
func PrefixEnvVar(prefix, suffix string) []string {
	return []string{prefix + "_" + suffix}
}

// ValidateEnvVars logs a warning for every environment variable under the
// service prefix that no flag declares, catching typos in deployments.
func ValidateEnvVars(prefix string, flags []cli.Flag, logger log.Logger) {
	known := make(map[string]struct{})
	for _, f := range flags {
		if dv, ok := f.(cli.DocGenerationFlag); ok {
			for _, env := range dv.GetEnvVars() {
				known[env] = struct{}{}
			}
		}
	}
	for _, env := range os.Environ() {
		key, _, _ := strings.Cut(env, "=")
		if !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		if _, ok := known[key]; !ok {
			logger.Warn(fmt.Sprintf("unknown env var %s prefixed with %s", key, prefix))
		}
	}
}

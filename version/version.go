// Package version resolves the service version from the build metadata the
// Go toolchain embeds into the binary. The stats command reports this
// alongside backend health so a deployment can be identified from one call.
package version

import (
	"runtime/debug"
	"strings"
)

// modulePath is this module's import path, used to tell a tagged build of
// the service apart from a source checkout.
const modulePath = "github.com/AllieRays/redis-wellness"

// backendDriverPath is the backend client library whose version is worth
// surfacing: wire-level behavior (search dialect, RESP handling) follows it.
const backendDriverPath = "github.com/redis/go-redis/v9"

// Info is the version surface reported by the stats command.
type Info struct {
	Service       string `json:"service"`
	GoVersion     string `json:"go_version"`
	Commit        string `json:"commit,omitempty"`
	Dirty         bool   `json:"dirty,omitempty"`
	BackendDriver string `json:"backend_driver,omitempty"`
}

// Resolve reads the embedded build metadata. A source checkout without a
// version tag reports "dev"; a stripped binary reports "unknown" throughout.
func Resolve() Info {
	info := Info{Service: "unknown", GoVersion: "unknown"}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion
	info.Service = "dev"
	if bi.Main.Path == modulePath && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Service = bi.Main.Version
	}

	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Commit = shortCommit(setting.Value)
		case "vcs.modified":
			info.Dirty = setting.Value == "true"
		}
	}

	for _, dep := range bi.Deps {
		if dep.Path != backendDriverPath {
			continue
		}
		info.BackendDriver = dep.Version
		if dep.Replace != nil {
			info.BackendDriver = dep.Replace.Version + " (replaced)"
		}
		break
	}

	return info
}

// shortCommit abbreviates a revision hash to the conventional 12 characters.
func shortCommit(rev string) string {
	if len(rev) > 12 && !strings.ContainsAny(rev, " \t") {
		return rev[:12]
	}
	return rev
}

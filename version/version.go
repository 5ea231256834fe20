package version

import "runtime/debug"

// These vars are set at build time via:
//
//	go build -ldflags "-X veilql/version.Tag=v1.0.0 -X veilql/version.GitCommit=abc1234 -X veilql/version.BuildTime=2026-08-01T00:00:00Z"
var (
	Tag       = "dev"
	GitCommit = "" // empty = auto-detect from build info
	BuildTime = "" // empty = auto-detect from build info
)

// String renders the full version banner. The PostgreSQL prefix keeps
// wire-protocol clients that parse version() output happy.
func String() string {
	commit, buildTime := GitCommit, BuildTime
	if commit == "" || buildTime == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					if commit == "" && len(s.Value) >= 8 {
						commit = s.Value[:8]
					}
				case "vcs.time":
					if buildTime == "" {
						buildTime = s.Value
					}
				}
			}
		}
	}
	if commit == "" {
		commit = "unknown"
	}
	if buildTime == "" {
		buildTime = "unknown"
	}
	return "PostgreSQL 15.0 (veilql " + Tag + ", commit " + commit + ", built " + buildTime + ")"
}

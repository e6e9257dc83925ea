// Package version derives the build identity reported on /health and in
// outbound user-agent strings. A -ldflags override wins over VCS build
// info; without either the commit reads "dev".
package version

import "runtime/debug"

// AppName identifies this binary in version strings.
const AppName = "remedy"

// commit may be injected at build time:
//
//	go build -ldflags "-X .../pkg/version.commit=$(git rev-parse HEAD)"
var commit string

// GitCommit is the short commit hash, or "dev" outside a git build.
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "remedy/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

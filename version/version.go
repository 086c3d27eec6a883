// Package version holds build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Populated via -ldflags at build time, e.g.:
//
//	go build -ldflags "-X github.com/librettohq/libretto/version.GitRelease=v0.3.0 \
//	  -X github.com/librettohq/libretto/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/librettohq/libretto/version.GitCommitDate=$(git log -1 --format=%cs)"
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo reports the Go toolchain and platform the binary was built with.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

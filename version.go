package relay

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var version string

// Version is the release of this module. Builds may override it with -ldflags.
var Version = strings.TrimSpace(version)

package version

// Set at build time via -ldflags "-X kanflow/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Package version exposes the legiond release string stamped in at link
// time.
package version

// version defaults to "dev" for local builds; release builds overwrite it
// with -ldflags "-X legion/internal/version.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags target must be a package-level var

// String reports the version the binary was built as.
func String() string {
	return version
}

// Package buildinfo carries version metadata stamped at link time with
// -ldflags "-X recommerce/internal/buildinfo.Version=...".
package buildinfo

var Version = "dev"

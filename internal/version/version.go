// Package version holds the build version of toolbridge.
package version

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Package version exposes build metadata for the generator.
//
// Version, Commit and BuildTime are injected via Go ldflags. UserAgent is
// what the generator sends to the release API and download hosts.
package version

// Package generator produces the update database for the latest release.
//
// A run resolves the release asset, downloads and hashes the installer
// script and the client archive, fills the fixed document template and
// saves it when it differs from the previous one. Run returns a Result
// instead of exiting, so callers decide how to report failures.
package generator

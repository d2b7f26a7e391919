// Package fetcher downloads distributable files and reports their size and
// MD5 hash without keeping the bytes around.
//
// Each download is streamed in fixed-size chunks into its own temporary file,
// which is removed before Fetch returns, whatever the outcome. MD5 serves
// change detection and transfer integrity for the downloader; it is not
// meant to resist deliberate collisions.
package fetcher

// Package manifest models the update database consumed by the MiSTer
// downloader: a fixed set of files with size, MD5 hash, URL and tags,
// plus the folders and tag dictionary the client needs.
package manifest

// Package config defines where the generator reads releases from and where
// it writes the update database.
//
// Every field has a compiled-in default, so the generator runs without a
// settings file. A YAML file can override any of them, which is how tests
// point the generator at local fake endpoints.
package config

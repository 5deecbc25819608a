// Package config loads and validates gateway configuration.
//
// Configuration comes from an optional YAML file with environment-variable
// overrides layered on top; env always wins. Credentials themselves are not
// configuration: the key pool reads them from <SERVICE>_KEY variables or the
// hot-reloaded key file.
package config

// Package config loads and validates run configuration and provides
// CUE-based attribute validation for resource declarations.
package config

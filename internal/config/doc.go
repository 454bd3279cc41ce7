// Package config loads, validates and persists the YAML configuration that
// drives a packaging run: directory layout, per-stage skip flags, patch
// compression, and the signing key reference. The pipeline treats a loaded
// Config as read-only.
package config

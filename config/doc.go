// Package config loads the dispatcher configuration from a YAML file and
// environment variables, validates it, and converts each section into the
// settings type of the component it configures.
package config

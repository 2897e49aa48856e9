// Package config provides configuration loading for BioSync Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by BIOSYNC_* environment variables. Validation
// runs at load time; a malformed configuration is a startup error, never
// a runtime one.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config

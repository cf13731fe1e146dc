// Package config handles loading and validating the overlay server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// A missing configuration file is not an error: the defaults describe a
// complete single-machine setup (overlay.db next to the binary, port 3010).
//
// Security Considerations:
//   - Broker credentials and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Path)
package config

// Package config handles loading and validating the cube server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file before overrides are applied
//   - Overriding with COVCUBE_* environment variables
//   - Validation of required fields
//
// Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
// supplied through the environment rather than the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", ".env")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config

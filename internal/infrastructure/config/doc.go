// Package config handles loading and validating the Sterbox bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//   - Order-preserving decoding of the variables/sections table
//
// Security Considerations:
//   - The device and broker passwords should be set via environment variables
//     (STERBOX_PASSWORD, STERBOX_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//   - String() and MarshalJSON() redact passwords
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sterbox.Name)
package config

// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Reading KEY=VALUE env files without touching the process environment
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The InfluxDB token should be set via DB_SERVER_TOKEN, not the YAML file
//   - Env files hold credentials and should have restricted permissions (0600)
//
// Usage:
//
//	env, err := config.LoadEnvFile(config.EnvFilePath())
//	if err != nil && !errors.Is(err, config.ErrEnvFileNotFound) {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("configs/config.yaml", env)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.InfluxDB.Bucket)
package config

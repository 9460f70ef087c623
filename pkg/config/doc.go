// Package config loads typed configuration from environment variables.
//
// It combines github.com/joho/godotenv (optional `.env` file) with
// github.com/caarlos0/env/v11 (struct tag parsing). Every package that needs
// settings declares its own Config struct with `env` tags and the binary
// composes them:
//
//	var pg pg.Config
//	if err := config.Load(&pg); err != nil {
//	    return err
//	}
//
// Parsed configs are cached per type; ResetCache clears the cache in tests.
package config

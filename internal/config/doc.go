// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for noteguard.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (NOTEGUARD_*)
//   - ~/.noteguard/config.toml
//   - Built-in defaults
//
// .env files beside the config file and in the working directory are
// loaded into the environment first; variables already set are kept.
//
// # Secrets
//
// The cloud API key is never read from or written to the config file. It
// comes from the environment variable named by cloud.api_key_env.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	go config.Watch(ctx, path, logger, gateway.ApplyConfig)
package config

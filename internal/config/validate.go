// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
// Struct tags cover field-level rules; cross-field rules are checked by
// hand below.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("invalid value for %s (rule %q)", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}

	// The store timeout must fit inside a recovery interval, otherwise a
	// single hung call can overlap the next recovery attempt.
	if c.Persistence.StoreTimeout >= c.Persistence.RecoveryInterval {
		return fmt.Errorf("persistence.store_timeout (%s) must be shorter than persistence.recovery_interval (%s)",
			c.Persistence.StoreTimeout, c.Persistence.RecoveryInterval)
	}

	// The room-store timeout bounds calls made from event side effects;
	// anything above the shutdown timeout would block graceful shutdown.
	if c.RoomStore.Timeout > c.Server.ShutdownTimeout {
		return fmt.Errorf("roomstore.timeout (%s) must not exceed server.shutdown_timeout (%s)",
			c.RoomStore.Timeout, c.Server.ShutdownTimeout)
	}

	return nil
}

// asValidationErrors unwraps err into validator.ValidationErrors.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}

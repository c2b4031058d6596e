// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes attached to registry failures.
const (
	CodeNotFound       = "MODULE_NOT_FOUND"
	CodeLoadFailed     = "MODULE_LOAD_FAILED"
	CodeRollbackFailed = "MODULE_ROLLBACK_FAILED"
	CodeInvalidName    = "MODULE_INVALID_NAME"
	CodeExists         = "MODULE_EXISTS"
)

// Sentinel errors. Registry errors wrap these, so errors.Is works through the
// oops context.
var (
	ErrNotFound       = errors.New("module not found")
	ErrLoadFailed     = errors.New("module load failed")
	ErrRollbackFailed = errors.New("module rollback failed")
	ErrExists         = errors.New("module already installed")
)

func notFound(name string) error {
	return oops.In("module").
		Code(CodeNotFound).
		With("module", name).
		Hint("expected <root>/<name>/module.yaml, init.lua, <name>.lua or <root>/<name>.lua").
		Wrap(ErrNotFound)
}

// loadFailed keeps the cause as text so the outer code is the one reported.
func loadFailed(name, stage string, cause error) error {
	return oops.In("module").
		Code(CodeLoadFailed).
		With("module", name).
		With("stage", stage).
		Wrap(fmt.Errorf("%w: %s: %v", ErrLoadFailed, stage, cause))
}

func rollbackFailed(name string, cause, rollback error) error {
	return oops.In("module").
		Code(CodeRollbackFailed).
		With("module", name).
		Hint("the module is no longer installed; fix it and reload").
		Wrap(fmt.Errorf("%w: register: %v; rollback: %v", ErrRollbackFailed, cause, rollback))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package main implements an echo binary module for dyno.
// It replies to the echo command with its arguments.
//
// Build it into a module directory next to its manifest:
//
//	go build -o modules/echo/echo ./plugins/echo
//	cp plugins/echo/module.yaml modules/echo/
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dynohq/dyno/pkg/modulesdk"
)

type echo struct{}

func (echo) Commands() []modulesdk.CommandSpec {
	return []modulesdk.CommandSpec{
		{Name: "echo", Description: "Repeat the arguments"},
		{Name: "shout", Description: "Repeat the arguments loudly"},
	}
}

func (echo) Execute(_ context.Context, inv modulesdk.Invocation) (string, error) {
	msg := strings.Join(inv.Args, " ")
	switch inv.Command {
	case "echo":
		return msg, nil
	case "shout":
		return strings.ToUpper(msg) + "!", nil
	default:
		return "", fmt.Errorf("unknown command %q", inv.Command)
	}
}

func main() {
	modulesdk.Serve(echo{})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package host

import "context"

// Invocation describes a single command call from a chat user.
type Invocation struct {
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	UserID    string   `json:"user_id"`
	ChannelID string   `json:"channel_id"`
	GuildID   string   `json:"guild_id"`
}

// CommandFunc executes a command and returns the reply text.
type CommandFunc func(ctx context.Context, inv Invocation) (string, error)

// Command is a chat command contributed by a module.
type Command struct {
	Name        string
	Description string
	Execute     CommandFunc
	// Owner is set by RegisterCommand.
	Owner Owner
}

// Hook handles a named bot event such as "guildMemberAdd".
type Hook func(ctx context.Context, payload any) error

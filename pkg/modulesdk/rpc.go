// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package modulesdk

import (
	"context"
	"errors"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
)

// Compile-time interface checks.
var (
	_ hashiplug.Plugin = (*ModulePlugin)(nil)
	_ Client           = (*RPCClient)(nil)
)

// Empty is the argument and reply of calls that carry no data.
type Empty struct{}

// DescribeReply carries the module's commands.
type DescribeReply struct {
	Commands []CommandSpec
}

// ExecuteReply carries a command reply.
type ExecuteReply struct {
	Output string
}

// ModulePlugin adapts a Module to go-plugin's net/rpc protocol.
type ModulePlugin struct {
	// Impl is only set in the module process.
	Impl Module
}

// Server implements hashiplug.Plugin (module side).
func (p *ModulePlugin) Server(*hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("modulesdk: module implementation is nil")
	}
	return &RPCServer{Impl: p.Impl}, nil
}

// Client implements hashiplug.Plugin (host side).
func (p *ModulePlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCServer exposes a Module over net/rpc.
type RPCServer struct {
	Impl Module
}

// Describe returns the declared commands.
func (s *RPCServer) Describe(_ Empty, reply *DescribeReply) error {
	reply.Commands = s.Impl.Commands()
	return nil
}

// Register runs the optional Register hook.
func (s *RPCServer) Register(_ Empty, _ *Empty) error {
	if r, ok := s.Impl.(Registerer); ok {
		return r.Register(context.Background())
	}
	return nil
}

// Unload runs the optional Unload hook.
func (s *RPCServer) Unload(_ Empty, _ *Empty) error {
	if u, ok := s.Impl.(Unloader); ok {
		return u.Unload(context.Background())
	}
	return nil
}

// Execute runs a command.
func (s *RPCServer) Execute(inv Invocation, reply *ExecuteReply) error {
	out, err := s.Impl.Execute(context.Background(), inv)
	if err != nil {
		return err
	}
	reply.Output = out
	return nil
}

// RPCClient calls a module process.
type RPCClient struct {
	client *rpc.Client
}

// Describe implements Client.
func (c *RPCClient) Describe() ([]CommandSpec, error) {
	var reply DescribeReply
	if err := c.client.Call("Plugin.Describe", Empty{}, &reply); err != nil {
		return nil, err
	}
	return reply.Commands, nil
}

// Register implements Client.
func (c *RPCClient) Register() error {
	return c.client.Call("Plugin.Register", Empty{}, &Empty{})
}

// Unload implements Client.
func (c *RPCClient) Unload() error {
	return c.client.Call("Plugin.Unload", Empty{}, &Empty{})
}

// Execute implements Client.
func (c *RPCClient) Execute(inv Invocation) (string, error) {
	var reply ExecuteReply
	if err := c.client.Call("Plugin.Execute", inv, &reply); err != nil {
		return "", err
	}
	return reply.Output, nil
}

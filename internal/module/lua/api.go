// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package lua

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/module/capability"
)

// apiGlobal is the table modules reach the host through.
const apiGlobal = "dyno"

// api implements the dyno.* host functions for one instance.
type api struct {
	inst     *instance
	enforcer *capability.Enforcer
}

func newAPI(inst *instance, enforcer *capability.Enforcer) *api {
	return &api{inst: inst, enforcer: enforcer}
}

func (a *api) install(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "name", lua.LString(a.inst.name))
	L.SetField(mod, "command", L.NewFunction(a.command))
	L.SetField(mod, "on", L.NewFunction(a.on))
	L.SetField(mod, "publish", L.NewFunction(a.publish))
	L.SetField(mod, "log", L.NewFunction(a.log))
	L.SetField(mod, "can", L.NewFunction(a.can))
	L.SetGlobal(apiGlobal, mod)
}

func (a *api) require(L *lua.LState, capName string) bool {
	if a.enforcer.Check(a.inst.name, capName) {
		return true
	}
	L.RaiseError("capability denied: %s requires %s", a.inst.name, capName)
	return false
}

// command registers a chat command: dyno.command(name, [description,] fn).
// fn receives the invocation table and returns the reply text.
func (a *api) command(L *lua.LState) int {
	name := L.CheckString(1)
	description := ""
	fnIdx := 2
	if L.Get(2).Type() == lua.LTString {
		description = L.CheckString(2)
		fnIdx = 3
	}
	fn := L.CheckFunction(fnIdx)

	if !a.require(L, capability.CommandsRegister) {
		return 0
	}

	inst := a.inst
	err := inst.bot.RegisterCommand(inst.owner, host.Command{
		Name:        name,
		Description: description,
		Execute: func(ctx context.Context, inv host.Invocation) (string, error) {
			ret, err := inst.call(ctx, fn, 1, inv)
			if err != nil {
				return "", err
			}
			if ret == lua.LNil {
				return "", nil
			}
			return ret.String(), nil
		},
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// on subscribes fn to a host event: dyno.on(event, fn).
func (a *api) on(L *lua.LState) int {
	event := L.CheckString(1)
	fn := L.CheckFunction(2)
	if event == "" {
		L.ArgError(1, "event name cannot be empty")
		return 0
	}
	if !a.require(L, capability.EventsSubscribe+"."+event) {
		return 0
	}

	inst := a.inst
	inst.bot.On(inst.owner, event, func(ctx context.Context, payload any) error {
		_, err := inst.call(ctx, fn, 0, payload)
		return err
	})
	return 0
}

// publish broadcasts on an IPC topic: ok, err = dyno.publish(topic, payload).
func (a *api) publish(L *lua.LState) int {
	topic := L.CheckString(1)
	payload := toGo(L.Get(2))
	if topic == "" {
		L.ArgError(1, "topic cannot be empty")
		return 0
	}
	if !a.require(L, capability.IPCPublish+"."+topic) {
		return 0
	}

	p := a.inst.bot.Publisher()
	if p == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("ipc is not available"))
		return 2
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.Publish(ctx, topic, payload); err != nil {
		a.inst.logger.Warn("module publish failed", "topic", topic, "error", err)
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	L.Push(lua.LNil)
	return 2
}

// log writes through slog: dyno.log(level, message).
func (a *api) log(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	logger := a.inst.logger
	switch level {
	case "debug":
		logger.Debug(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
	return 0
}

// can reports whether the module holds a capability: dyno.can(name).
func (a *api) can(L *lua.LState) int {
	L.Push(lua.LBool(a.enforcer.Check(a.inst.name, L.CheckString(1))))
	return 1
}

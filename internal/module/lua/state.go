// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package lua loads Lua modules. Every Load compiles the entry file into a
// new LState, so a reload always runs the current source.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type library struct {
	name string
	fn   lua.LGFunction
}

// Loaded: base, table, string, math. Not loaded: os, io, debug, package.
func defaultLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedBaseFunctions read or compile code from outside the module entry.
var blockedBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates Lua states with a reduced standard library.
type StateFactory struct {
	libraries []library
}

// NewStateFactory creates a state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: defaultLibraries()}
}

// NewState returns a fresh state with only the configured libraries opened.
func (f *StateFactory) NewState(_ context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}

	for _, fn := range blockedBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}

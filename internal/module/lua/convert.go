// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package lua

import (
	"encoding/json"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value into JSON-friendly Go data.
func toGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if isArray(val) {
			out := make([]any, 0, val.MaxN())
			for i := 1; i <= val.MaxN(); i++ {
				out = append(out, toGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			out[k.String()] = toGo(v)
		})
		return out
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// isArray reports whether tbl only has the keys 1..n. Empty tables are maps.
func isArray(tbl *lua.LTable) bool {
	n := tbl.MaxN()
	if n == 0 {
		return false
	}
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) { count++ })
	return count == n
}

// toLua converts Go data into a Lua value. Types outside the JSON model are
// normalized through encoding/json first.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return lua.LString(string(val))
		}
		return toLua(L, decoded)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(L, val[k]))
		}
		return tbl
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return lua.LString("")
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return lua.LString(string(data))
		}
		return toLua(L, decoded)
	}
}

// Package luahost runs *.lua scripts as plugins. A script declares a
// `plugin` table (name, version, events) and an `on_event` function;
// the host bridges the plugin context into the lua environment.
package luahost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/plugin_manager"
)

const commandTimeout = 10 * time.Second

// LoadDirectory builds a definition for every *.lua file in dir.
func LoadDirectory(dir string) ([]plugin_manager.PluginDefinition, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, err
	}
	var defs []plugin_manager.PluginDefinition
	for _, path := range entries {
		def, err := LoadDefinition(path)
		if err != nil {
			return nil, fmt.Errorf("luahost: %s: %w", filepath.Base(path), err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDefinition reads the script's `plugin` table in a throwaway lua
// state and returns a definition whose instances re-run the script.
func LoadDefinition(path string) (plugin_manager.PluginDefinition, error) {
	if _, err := os.Stat(path); err != nil {
		return plugin_manager.PluginDefinition{}, err
	}

	L := lua.NewState()
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return plugin_manager.PluginDefinition{}, err
	}

	tbl, ok := L.GetGlobal("plugin").(*lua.LTable)
	if !ok {
		return plugin_manager.PluginDefinition{}, fmt.Errorf("script declares no plugin table")
	}

	def := plugin_manager.PluginDefinition{
		ID:          lua.LVAsString(tbl.RawGetString("name")),
		Name:        lua.LVAsString(tbl.RawGetString("name")),
		Description: lua.LVAsString(tbl.RawGetString("description")),
		Version:     lua.LVAsString(tbl.RawGetString("version")),
		Author:      lua.LVAsString(tbl.RawGetString("author")),
	}
	if def.ID == "" {
		return plugin_manager.PluginDefinition{}, fmt.Errorf("plugin table has no name")
	}

	if events, ok := tbl.RawGetString("events").(*lua.LTable); ok {
		events.ForEach(func(_, v lua.LValue) {
			def.Events = append(def.Events, event_manager.EventType(lua.LVAsString(v)))
		})
	}

	scriptPath := path
	def.CreateInstance = func() plugin_manager.Plugin {
		return &scriptPlugin{path: scriptPath, def: def, status: plugin_manager.PluginStatusStopped}
	}
	return def, nil
}

// scriptPlugin is one running lua script. The lua state is not
// goroutine-safe; every entry point takes the mutex.
type scriptPlugin struct {
	path string
	def  plugin_manager.PluginDefinition

	mu     sync.Mutex
	L      *lua.LState
	pctx   *plugin_manager.PluginContext
	status plugin_manager.PluginStatus
}

func (p *scriptPlugin) GetDefinition() plugin_manager.PluginDefinition { return p.def }

func (p *scriptPlugin) Initialize(config map[string]any, pctx *plugin_manager.PluginContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pctx = pctx
	p.L = lua.NewState()
	p.installBridge(config)
	if err := p.L.DoFile(p.path); err != nil {
		p.L.Close()
		p.L = nil
		return err
	}
	return nil
}

func (p *scriptPlugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L == nil {
		return fmt.Errorf("luahost: %s not initialized", p.def.ID)
	}
	p.status = plugin_manager.PluginStatusRunning
	return p.callOptionalLocked("on_start")
}

func (p *scriptPlugin) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L == nil {
		return nil
	}
	p.status = plugin_manager.PluginStatusStopping
	err := p.callOptionalLocked("on_stop")
	p.L.Close()
	p.L = nil
	p.status = plugin_manager.PluginStatusStopped
	return err
}

func (p *scriptPlugin) HandleEvent(e *event_manager.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L == nil {
		return nil
	}
	fn, ok := p.L.GetGlobal("on_event").(*lua.LFunction)
	if !ok {
		return nil
	}
	return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, p.eventToLua(e))
}

func (p *scriptPlugin) GetStatus() plugin_manager.PluginStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *scriptPlugin) UpdateConfig(config map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L == nil {
		return nil
	}
	p.L.SetGlobal("config", goToLua(p.L, config))
	return p.callOptionalLocked("on_config")
}

func (p *scriptPlugin) callOptionalLocked(name string) error {
	fn, ok := p.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil
	}
	return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
}

// installBridge registers the config table and the log, commands and
// state modules.
func (p *scriptPlugin) installBridge(config map[string]any) {
	L := p.L
	L.SetGlobal("config", goToLua(L, config))

	logMod := L.NewTable()
	L.SetField(logMod, "info", L.NewFunction(func(L *lua.LState) int {
		p.pctx.Logger.Info(L.CheckString(1), nil)
		return 0
	}))
	L.SetField(logMod, "warn", L.NewFunction(func(L *lua.LState) int {
		p.pctx.Logger.Warn(L.CheckString(1), nil)
		return 0
	}))
	L.SetField(logMod, "error", L.NewFunction(func(L *lua.LState) int {
		p.pctx.Logger.Error(L.CheckString(1), nil, nil)
		return 0
	}))
	L.SetGlobal("log", logMod)

	cmdMod := L.NewTable()
	L.SetField(cmdMod, "broadcast", L.NewFunction(func(L *lua.LState) int {
		return p.pushCommandResult(L, p.withCmdCtx(func(ctx context.Context) error {
			return p.pctx.Commands.Broadcast(ctx, L.CheckString(1))
		}))
	}))
	L.SetField(cmdMod, "warn", L.NewFunction(func(L *lua.LState) int {
		return p.pushCommandResult(L, p.withCmdCtx(func(ctx context.Context) error {
			return p.pctx.Commands.WarnPlayer(ctx, L.CheckString(1), L.CheckString(2))
		}))
	}))
	L.SetField(cmdMod, "kick", L.NewFunction(func(L *lua.LState) int {
		return p.pushCommandResult(L, p.withCmdCtx(func(ctx context.Context) error {
			return p.pctx.Commands.KickPlayer(ctx, L.CheckString(1), L.CheckString(2))
		}))
	}))
	L.SetField(cmdMod, "execute", L.NewFunction(func(L *lua.LState) int {
		var body string
		err := p.withCmdCtx(func(ctx context.Context) error {
			var execErr error
			body, execErr = p.pctx.Commands.Execute(ctx, L.CheckString(1))
			return execErr
		})
		L.Push(lua.LString(body))
		if err != nil {
			L.Push(lua.LString(err.Error()))
		} else {
			L.Push(lua.LNil)
		}
		return 2
	}))
	L.SetGlobal("commands", cmdMod)

	stateMod := L.NewTable()
	L.SetField(stateMod, "player_count", L.NewFunction(func(L *lua.LState) int {
		if p.pctx.State == nil {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(p.pctx.State.PlayerCount()))
		return 1
	}))
	L.SetField(stateMod, "current_layer", L.NewFunction(func(L *lua.LState) int {
		if p.pctx.State == nil {
			L.Push(lua.LNil)
			return 1
		}
		layer, ok := p.pctx.State.CurrentLayer()
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(layer.Name))
		return 1
	}))
	L.SetField(stateMod, "player", L.NewFunction(func(L *lua.LState) int {
		if p.pctx.State == nil {
			L.Push(lua.LNil)
			return 1
		}
		player, ok := p.pctx.State.Player(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, structToMap(player)))
		return 1
	}))
	L.SetGlobal("state", stateMod)
}

func (p *scriptPlugin) withCmdCtx(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return fn(ctx)
}

func (p *scriptPlugin) pushCommandResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LString(err.Error()))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

func (p *scriptPlugin) eventToLua(e *event_manager.Event) lua.LValue {
	tbl := p.L.NewTable()
	p.L.SetField(tbl, "type", lua.LString(e.Type))
	p.L.SetField(tbl, "raw", lua.LString(e.Raw))
	p.L.SetField(tbl, "data", goToLua(p.L, structToMap(e.Data)))
	return tbl
}

// structToMap flattens a typed payload through its JSON form so lua
// sees the same field names the push bridge emits.
func structToMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

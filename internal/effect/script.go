package effect

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

// frameFunc is the global every effect script must define.
const frameFunc = "frame"

// DefaultFrameTimeout bounds one frame() call. The engine loop waits for it.
const DefaultFrameTimeout = 100 * time.Millisecond

// Script is a compiled Lua effect script. The script defines
//
//	function frame(ctx)
//	  return { on = true, brightness = 40, hue = 30, sat = 80, kelvin = 2200, transition = 500 }
//	end
//
// ctx carries hour, minute, second, index (1-based), count, tick and brightness.
type Script struct {
	name     string
	proto    *lua.FunctionProto
	interval time.Duration
	timeout  time.Duration
}

// CompileScript compiles Lua source into a reusable script.
func CompileScript(name, source string, interval time.Duration) (*Script, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse effect script %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile effect script %s: %w", name, err)
	}
	if interval <= 0 {
		interval = time.Second
	}
	timeout := DefaultFrameTimeout
	if interval < timeout {
		timeout = interval
	}
	return &Script{name: name, proto: proto, interval: interval, timeout: timeout}, nil
}

// SetTimeout changes how long one frame() call may run. Non-positive values are ignored.
func (s *Script) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// LoadScript reads and compiles a Lua effect script from disk.
func LoadScript(name, path string, interval time.Duration) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read effect script: %w", err)
	}
	return CompileScript(name, string(data), interval)
}

// Name returns the effect name the script registers under.
func (s *Script) Name() string {
	return s.name
}

// Factory returns an effect factory running this script.
func (s *Script) Factory() Factory {
	return func(b Binding) (Effect, error) {
		return newScripted(s, b)
	}
}

// Scripted runs a Lua script on its own VM. The VM is only touched from the
// engine loop so it needs no locking.
type Scripted struct {
	script     *Script
	L          *lua.LState
	frame      *lua.LFunction
	targets    []target.Target
	emit       Emitter
	clock      func() time.Time
	brightness int
	globals    light.Globals
	ticks      int
	timer      cadence
}

func newScripted(s *Script, b Binding) (*Scripted, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.MathLibName, lua.OpenMath},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}

	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to run effect script %s: %w", s.name, err)
	}

	frame, ok := L.GetGlobal(frameFunc).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("effect script %s does not define %s()", s.name, frameFunc)
	}

	return &Scripted{
		script:     s,
		L:          L,
		frame:      frame,
		targets:    b.Targets,
		emit:       b.Emit,
		clock:      b.now,
		brightness: intOr(b.Attributes.BrightnessPercent, 100),
		globals:    b.Globals,
		timer:      newCadence(s.interval, b.now()),
	}, nil
}

func (s *Scripted) Tick(force bool) bool {
	now := s.clock()
	if !force && !s.timer.due(now) {
		return false
	}
	s.ticks++

	emitted := false
	for i, t := range s.targets {
		attrs, err := s.call(now, i)
		if err != nil {
			log.Error().Err(err).Str("effect", s.script.name).Str("target", t.String()).Msg("Effect script failed")
			continue
		}
		s.emit.Enqueue(t, light.Resolve(light.Attributes{}, attrs, s.globals))
		emitted = true
	}

	if emitted {
		s.timer.emitted()
	} else {
		s.timer.skipped(now)
	}
	return emitted
}

func (s *Scripted) Flushed() {
	s.timer.flushed(s.clock())
}

// Close releases the Lua VM.
func (s *Scripted) Close() error {
	s.L.Close()
	return nil
}

func (s *Scripted) call(now time.Time, index int) (light.Attributes, error) {
	ctx := s.L.NewTable()
	s.L.SetField(ctx, "hour", lua.LNumber(now.Hour()))
	s.L.SetField(ctx, "minute", lua.LNumber(now.Minute()))
	s.L.SetField(ctx, "second", lua.LNumber(now.Second()))
	s.L.SetField(ctx, "index", lua.LNumber(index+1))
	s.L.SetField(ctx, "count", lua.LNumber(len(s.targets)))
	s.L.SetField(ctx, "tick", lua.LNumber(s.ticks))
	s.L.SetField(ctx, "brightness", lua.LNumber(s.brightness))

	callCtx, cancel := context.WithTimeout(context.Background(), s.script.timeout)
	defer cancel()
	s.L.SetContext(callCtx)
	defer s.L.RemoveContext()

	s.L.Push(s.frame)
	s.L.Push(ctx)
	if err := s.L.PCall(1, 1, nil); err != nil {
		return light.Attributes{}, err
	}
	result := s.L.Get(-1)
	s.L.Pop(1)

	tbl, ok := result.(*lua.LTable)
	if !ok {
		return light.Attributes{}, fmt.Errorf("%s() returned %s, want table", frameFunc, result.Type())
	}
	return tableToAttributes(tbl), nil
}

func tableToAttributes(tbl *lua.LTable) light.Attributes {
	var attrs light.Attributes
	if v, ok := tbl.RawGetString("on").(lua.LBool); ok {
		attrs.On = light.Bool(bool(v))
	}
	attrs.BrightnessPercent = numberField(tbl, "brightness")
	attrs.ColorTemperature = numberField(tbl, "kelvin")
	attrs.Hue = numberField(tbl, "hue")
	attrs.Saturation = numberField(tbl, "sat")
	attrs.TransitionMs = numberField(tbl, "transition")
	return attrs
}

func numberField(tbl *lua.LTable, key string) *int {
	if v, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return light.Int(int(v))
	}
	return nil
}

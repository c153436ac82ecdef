// Package transform formats published readings with a user supplied
// JavaScript function.
//
// The script must define
//
//	function format(reading) { ... }
//
// reading has the fields of the default JSON payload (time, temperature,
// humidity, heat_index, dew_point, open). The return value is encoded as
// JSON and published instead of the default payload. Strings are published
// as they are. Returning null or undefined skips the publish.
package transform

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/robertkrimen/otto"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

const formatFunc = "format"

// Script is a compiled format script. The VM keeps global state between
// calls, so scripts may aggregate (e.g. moving averages).
type Script struct {
	mu sync.Mutex
	vm *otto.Otto
}

func Load(filename string) (*Script, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	s, err := New(string(src))
	return s, errors.Wrapf(err, "loading script %s", filename)
}

func New(src string) (*Script, error) {
	vm := otto.New()
	if _, err := vm.Run(src); err != nil {
		return nil, errors.Wrap(err, "running script")
	}
	fn, err := vm.Get(formatFunc)
	if err != nil {
		return nil, err
	}
	if !fn.IsFunction() {
		return nil, errors.Errorf("script does not define function %s(reading)", formatFunc)
	}
	return &Script{vm: vm}, nil
}

// Format returns the payload for r. A nil payload without error means the
// script asked to skip this reading.
func (s *Script) Format(r spacestate.Reading) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arg, err := s.vm.ToValue(spacestate.NewPayload(r).Map())
	if err != nil {
		return nil, err
	}
	v, err := s.vm.Call(formatFunc, nil, arg)
	if err != nil {
		return nil, errors.Wrap(err, "calling format")
	}
	if v.IsUndefined() || v.IsNull() {
		return nil, nil
	}
	if v.IsString() {
		str, err := v.ToString()
		return []byte(str), err
	}
	val, err := valueToValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(val)
}

func valueToValue(v otto.Value) (interface{}, error) {
	switch {
	case v.IsUndefined():
		return nil, errors.New("no value")
	case v.IsNull():
		return nil, nil
	case v.IsNumber():
		return v.ToFloat()
	case v.IsBoolean():
		return v.ToBoolean()
	case v.IsString():
		return v.ToString()
	case v.IsObject() && v.Object().Class() == "Array":
		return arrayToSlice(v.Object())
	case v.IsObject():
		return objectToMap(v.Object())
	}
	return nil, errors.Errorf("unsupported value of class %s", v.Class())
}

func objectToMap(o *otto.Object) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	for _, k := range o.Keys() {
		vv, err := o.Get(k)
		if err != nil {
			return nil, err
		}
		if vv.IsUndefined() || vv.IsFunction() {
			continue
		}
		if m[k], err = valueToValue(vv); err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
	}
	return m, nil
}

func arrayToSlice(o *otto.Object) ([]interface{}, error) {
	keys := o.Keys()
	s := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		vv, err := o.Get(k)
		if err != nil {
			return nil, err
		}
		val, err := valueToValue(vv)
		if err != nil {
			return nil, errors.Wrapf(err, "element %s", k)
		}
		s = append(s, val)
	}
	return s, nil
}

/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wiring

import (
	"github.com/go-errors/errors"
	"github.com/samber/do"
	"github.com/samber/lo"
	"reflect"
)

var errorReflectiveType = reflect.TypeOf((*error)(nil)).Elem()

// PostConstructable services are called once after construction
type PostConstructable interface {
	PostConstruct() error
}

type ProvideOption interface {
	applyProvideOption(info *bindingInfo)
}

// ForceInitialization creates the service eagerly while the container
// is built instead of on first request.
func ForceInitialization() ProvideOption {
	return forceInitializationProvideOption{}
}

type forceInitializationProvideOption struct {
}

func (f forceInitializationProvideOption) applyProvideOption(info *bindingInfo) {
	info.forceInit = true
}

type Module interface {
	MayProvide(constructor any, options ...ProvideOption)
	Provide(constructor any, options ...ProvideOption)
	Invoke(call any)
	stage1(injector *do.Injector) error
	stage2(injector *do.Injector) error
}

func DefineModule(name string, definer func(module Module)) Module {
	module := &module{
		name: name,
	}
	definer(module)
	return module
}

type module struct {
	name     string
	bindings []*bindingInfo
}

func (m *module) stage1(injector *do.Injector) error {
	for _, binding := range m.bindings {
		if binding.invoker != nil {
			continue
		}
		if lo.Contains(injector.ListProvidedServices(), binding.output.String()) {
			do.OverrideNamed(injector, binding.output.String(), binding.provider)
		} else {
			do.ProvideNamed(injector, binding.output.String(), binding.provider)
		}
	}
	return nil
}

func (m *module) stage2(injector *do.Injector) error {
	for _, binding := range m.bindings {
		if binding.invoker != nil {
			if err := binding.invoker(injector); err != nil {
				return errors.Errorf("module %s: %s", m.name, err.Error())
			}
		}
		if binding.forceInit {
			if _, err := do.InvokeNamed[any](injector, binding.output.String()); err != nil {
				return errors.Errorf("module %s: %s", m.name, err.Error())
			}
		}
	}
	return nil
}

// MayProvide registers the constructor only if it is non-nil, used for
// overridable providers of the system configuration.
func (m *module) MayProvide(constructor any, options ...ProvideOption) {
	if constructor == nil {
		return
	}
	if reflect.ValueOf(constructor).IsNil() {
		return
	}
	m.Provide(constructor, options...)
}

func (m *module) Provide(constructor any, options ...ProvideOption) {
	fn := newReflectiveFunc(constructor)
	if fn.t.NumOut() == 0 || fn.t.NumOut() > 2 {
		panic(errors.Errorf("Type %s must have 1 or 2 return values, but has %d", fn.t.String(), fn.t.NumOut()))
	}
	if fn.t.NumOut() == 2 && !fn.returnsError(1) {
		panic(errors.Errorf("Type %s has two return values, but the second one isn't an error", fn.t.String()))
	}

	binding := &bindingInfo{
		output: fn.t.Out(0),
	}
	binding.provider = func(injector *do.Injector) (any, error) {
		results, err := fn.call(injector)
		if err != nil {
			return nil, err
		}
		if fn.t.NumOut() == 2 {
			if err := asError(results[1]); err != nil {
				return nil, err
			}
		}

		value := results[0].Interface()
		if v, ok := value.(PostConstructable); ok {
			if err := v.PostConstruct(); err != nil {
				return nil, err
			}
		}
		return value, nil
	}

	for _, option := range options {
		option.applyProvideOption(binding)
	}
	m.bindings = append(m.bindings, binding)
}

func (m *module) Invoke(call any) {
	fn := newReflectiveFunc(call)
	if fn.t.NumOut() > 1 {
		panic(errors.Errorf("Type %s can only have 1 return value, but has %d", fn.t.String(), fn.t.NumOut()))
	}
	if fn.t.NumOut() == 1 && !fn.returnsError(0) {
		panic(errors.Errorf("Type %s has a return value which isn't an error", fn.t.String()))
	}

	m.bindings = append(m.bindings, &bindingInfo{
		invoker: func(injector *do.Injector) error {
			results, err := fn.call(injector)
			if err != nil {
				return err
			}
			if len(results) == 1 {
				return asError(results[0])
			}
			return nil
		},
	})
}

type reflectiveFunc struct {
	t reflect.Type
	v reflect.Value
}

func newReflectiveFunc(fn any) reflectiveFunc {
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		panic(errors.Errorf("Type %s is not a function", t.String()))
	}
	return reflectiveFunc{t: t, v: reflect.ValueOf(fn)}
}

func (f reflectiveFunc) returnsError(index int) bool {
	return f.t.Out(index).ConvertibleTo(errorReflectiveType)
}

// call resolves all parameters by their type name and calls the function
func (f reflectiveFunc) call(injector *do.Injector) ([]reflect.Value, error) {
	params := make([]reflect.Value, 0, f.t.NumIn())
	for i := 0; i < f.t.NumIn(); i++ {
		paramType := f.t.In(i)
		param, err := do.InvokeNamed[any](injector, paramType.String())
		if err != nil {
			return nil, err
		}
		if param == nil {
			params = append(params, reflect.Zero(paramType))
		} else {
			params = append(params, reflect.ValueOf(param))
		}
	}
	return f.v.Call(params), nil
}

func asError(value reflect.Value) error {
	if value.IsNil() {
		return nil
	}
	return value.Convert(errorReflectiveType).Interface().(error)
}

type bindingInfo struct {
	output    reflect.Type
	forceInit bool
	provider  func(injector *do.Injector) (any, error)
	invoker   func(injector *do.Injector) error
}

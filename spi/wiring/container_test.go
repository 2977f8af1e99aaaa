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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type greeter struct {
	name          string
	constructed   bool
	shutdownCalls int
}

func (g *greeter) PostConstruct() error {
	g.constructed = true
	return nil
}

func (g *greeter) Shutdown() error {
	g.shutdownCalls++
	return nil
}

type greeting string

func Test_Provide_And_Resolve(t *testing.T) {
	invoked := false
	module := DefineModule("Test", func(module Module) {
		module.Provide(func() string {
			return "lake"
		})
		module.Provide(func(name string) (*greeter, error) {
			return &greeter{name: name}, nil
		})
		module.Provide(func(g *greeter) greeting {
			return greeting("hello " + g.name)
		})
		module.Invoke(func(g greeting) error {
			invoked = g == "hello lake"
			return nil
		})
	})

	container, err := NewContainer(module)
	require.NoError(t, err)
	assert.True(t, invoked)

	var g *greeter
	require.NoError(t, container.Service(&g))
	assert.Equal(t, "lake", g.name)
	assert.True(t, g.constructed)

	require.NoError(t, container.Shutdown())
	assert.Equal(t, 1, g.shutdownCalls)
}

func Test_Later_Module_Overrides(t *testing.T) {
	base := DefineModule("Base", func(module Module) {
		module.Provide(func() string {
			return "base"
		})
	})
	override := DefineModule("Override", func(module Module) {
		module.Provide(func() string {
			return "override"
		})
	})

	container, err := NewContainer(base, override)
	require.NoError(t, err)

	var value string
	require.NoError(t, container.Service(&value))
	assert.Equal(t, "override", value)
}

func Test_Invoke_Error_Fails_Container(t *testing.T) {
	module := DefineModule("Failing", func(module Module) {
		module.Invoke(func() error {
			return errors.New("boom")
		})
	})

	_, err := NewContainer(module)
	assert.ErrorContains(t, err, "boom")
}

func Test_MayProvide_Skips_Nil(t *testing.T) {
	var provider func() string
	module := DefineModule("Optional", func(module Module) {
		module.MayProvide(provider)
		module.MayProvide(nil)
	})

	container, err := NewContainer(module)
	require.NoError(t, err)

	var value string
	assert.Error(t, container.Service(&value))
}

func Test_Provide_Rejects_Non_Functions(t *testing.T) {
	assert.Panics(t, func() {
		DefineModule("Broken", func(module Module) {
			module.Provide("not a function")
		})
	})
}

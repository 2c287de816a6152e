// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dbusutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// FakeCall records one method invocation on a [FakeBus].
type FakeCall struct {
	Destination string
	Path        dbus.ObjectPath
	Method      string
	Args        []any
}

// FakeBus is an in-memory [Bus] for tests. Handlers registered with
// Handle answer calls by method name; unhandled methods fail with
// org.freedesktop.DBus.Error.UnknownMethod.
type FakeBus struct {
	mutex       sync.Mutex
	handlers    map[string]func(FakeCall) ([]any, error)
	calls       []FakeCall
	subscribers []fakeSubscriber
}

type fakeSubscriber struct {
	path     dbus.ObjectPath
	name     string
	channel  chan *dbus.Signal
	canceled bool
}

// NewFakeBus returns a FakeBus with no handlers.
func NewFakeBus() *FakeBus {
	return &FakeBus{handlers: make(map[string]func(FakeCall) ([]any, error))}
}

// Handle answers calls to method with the values (or error) returned
// by handler.
func (b *FakeBus) Handle(method string, handler func(FakeCall) ([]any, error)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.handlers[method] = handler
}

// Reply answers every call to method with values.
func (b *FakeBus) Reply(method string, values ...any) {
	b.Handle(method, func(FakeCall) ([]any, error) { return values, nil })
}

// Fail answers every call to method with a D-Bus error named name.
func (b *FakeBus) Fail(method, name string) {
	b.Handle(method, func(FakeCall) ([]any, error) {
		return nil, dbus.Error{Name: name, Body: []any{"refused by test"}}
	})
}

// Calls returns the invocations so far, oldest first.
func (b *FakeBus) Calls() []FakeCall {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]FakeCall(nil), b.calls...)
}

// CallsTo returns the invocations of method.
func (b *FakeBus) CallsTo(method string) []FakeCall {
	var matching []FakeCall
	for _, call := range b.Calls() {
		if call.Method == method {
			matching = append(matching, call)
		}
	}
	return matching
}

func (b *FakeBus) Call(ctx context.Context, destination string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	call := FakeCall{Destination: destination, Path: path, Method: method, Args: args}

	b.mutex.Lock()
	b.calls = append(b.calls, call)
	handler := b.handlers[method]
	b.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return &dbus.Call{Destination: destination, Path: path, Method: method, Args: args, Err: err}
	}
	if handler == nil {
		return &dbus.Call{Destination: destination, Path: path, Method: method, Args: args, Err: dbus.Error{
			Name: "org.freedesktop.DBus.Error.UnknownMethod",
			Body: []any{fmt.Sprintf("no fake handler for %s", method)},
		}}
	}
	body, err := handler(call)
	return &dbus.Call{Destination: destination, Path: path, Method: method, Args: args, Body: body, Err: err}
}

func (b *FakeBus) Subscribe(path dbus.ObjectPath, iface, member string) (<-chan *dbus.Signal, func(), error) {
	channel := make(chan *dbus.Signal, 16)
	b.mutex.Lock()
	defer b.mutex.Unlock()
	index := len(b.subscribers)
	b.subscribers = append(b.subscribers, fakeSubscriber{path: path, name: iface + "." + member, channel: channel})
	cancel := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		b.subscribers[index].canceled = true
	}
	return channel, cancel, nil
}

// Emit delivers a signal to every live subscriber whose path and
// name match. It reports how many subscribers received it.
func (b *FakeBus) Emit(path dbus.ObjectPath, name string, body ...any) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delivered := 0
	for _, subscriber := range b.subscribers {
		if subscriber.canceled || subscriber.path != path || subscriber.name != name {
			continue
		}
		subscriber.channel <- &dbus.Signal{Path: path, Name: name, Body: body}
		delivered++
	}
	return delivered
}

// Subscribers returns the number of live subscriptions to name.
func (b *FakeBus) Subscribers(name string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	count := 0
	for _, subscriber := range b.subscribers {
		if !subscriber.canceled && subscriber.name == name {
			count++
		}
	}
	return count
}

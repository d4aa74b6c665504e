// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the connection registry: the immutable set of named
// connections an Engine resolves queries against.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Registry holds every configured connection by name.
//
// It is constructed once from the complete list and never changes, so
// lookups need no locking.
type Registry struct {
	connectionList map[string]Connection
	defaultName    string
}

// NewRegistry builds a registry. The default name may be empty when exactly
// one connection is given; an unknown default fails with ErrConnectionNotFound.
func NewRegistry(defaultName string, connections ...Connection) (*Registry, error) {
	registry := &Registry{connectionList: make(map[string]Connection, len(connections))}
	for _, conn := range connections {
		if conn == nil {
			return nil, fmt.Errorf("%w: nil connection", ErrInvalidArgument)
		}
		name := conn.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: connection without name", ErrInvalidArgument)
		}
		if _, ok := registry.connectionList[name]; ok {
			return nil, &Error{Op: "registry", Connection: name, Err: fmt.Errorf("%w: duplicate connection", ErrInvalidArgument)}
		}
		registry.connectionList[name] = conn
	}
	if defaultName == "" && len(connections) == 1 {
		defaultName = connections[0].Name()
	}
	if defaultName != "" {
		if _, ok := registry.connectionList[defaultName]; !ok {
			return nil, &Error{Op: "registry", Connection: defaultName, Err: ErrConnectionNotFound}
		}
	}
	registry.defaultName = defaultName
	return registry, nil
}

// Resolve returns the named connection. An empty name resolves the default.
func (r *Registry) Resolve(name string) (Connection, error) {
	if name == "" {
		name = r.defaultName
	}
	if name == "" {
		return nil, &Error{Op: "resolve", Err: fmt.Errorf("%w: no default connection configured", ErrConnectionNotFound)}
	}
	conn, ok := r.connectionList[name]
	if !ok {
		return nil, &Error{Op: "resolve", Connection: name, Err: ErrConnectionNotFound}
	}
	return conn, nil
}

// Default returns the default connection name.
func (r *Registry) Default() string {
	return r.defaultName
}

// Names returns the registered connection names, sorted.
func (r *Registry) Names() []string {
	nameList := make([]string, 0, len(r.connectionList))
	for name := range r.connectionList {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}

// Connect connects every registered connection concurrently.
func (r *Registry) Connect(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range r.Names() {
		conn := r.connectionList[name]
		g.Go(func() error {
			if err := conn.Connect(ctx); err != nil {
				return &Error{Op: "connect", Connection: conn.Name(), Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every connection and joins their errors.
func (r *Registry) Close(ctx context.Context) error {
	var errList []error
	for _, name := range r.Names() {
		if err := r.connectionList[name].Close(ctx); err != nil {
			errList = append(errList, &Error{Op: "close", Connection: name, Err: err})
		}
	}
	return errors.Join(errList...)
}

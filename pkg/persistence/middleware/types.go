// Package middleware decorates a ports.ProjectStore with cross-cutting behavior.
package middleware

import "github.com/aretw0/empathyfine/pkg/ports"

// Middleware allows wrapping a ProjectStore to add behavior.
type Middleware func(ports.ProjectStore) ports.ProjectStore

// Chain wraps store with mws. The first middleware is the outermost.
func Chain(store ports.ProjectStore, mws ...Middleware) ports.ProjectStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

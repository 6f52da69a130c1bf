package httphandler

import (
	"net/http"

	// Packages
	openapi "github.com/mutablelogic/go-server/pkg/openapi/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// ServeMux is a Router over http.ServeMux which mounts handlers under a path
// prefix and applies middleware to those registered with it
type ServeMux struct {
	*http.ServeMux
	prefix     string
	middleware HTTPMiddlewareFuncs
	paths      map[string]*openapi.PathItem
}

var _ Router = (*ServeMux)(nil)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func NewServeMux(prefix string, middleware ...func(http.HandlerFunc) http.HandlerFunc) *ServeMux {
	return &ServeMux{
		ServeMux:   http.NewServeMux(),
		prefix:     types.NormalisePath(prefix),
		middleware: middleware,
		paths:      make(map[string]*openapi.PathItem),
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (mux *ServeMux) RegisterFunc(path string, handler http.HandlerFunc, middleware bool, spec *openapi.PathItem) error {
	path = types.JoinPath(mux.prefix, path)
	if middleware {
		handler = mux.middleware.Wrap(handler)
	}
	mux.HandleFunc(path, handler)
	mux.paths[path] = spec
	return nil
}

// Paths returns the registered paths with their descriptions
func (mux *ServeMux) Paths() map[string]*openapi.PathItem {
	return mux.paths
}

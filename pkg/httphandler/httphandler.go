package httphandler

import (
	"errors"
	"net/http"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Router is the interface required to register HTTP handlers.
type Router interface {
	RegisterFunc(path string, handler http.HandlerFunc, middleware bool, spec *openapi.PathItem) error
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterHandlers registers all upload HTTP handlers on the provided router.
func RegisterHandlers(mgr *manager.Manager, router Router) error {
	var result error
	register := func(path string, handler http.HandlerFunc, spec *openapi.PathItem) {
		result = errors.Join(result, router.RegisterFunc(path, handler, true, spec))
	}
	register(ConfigHandler(mgr))
	register(UploadHandler(mgr))
	register(PresignHandler(mgr))
	register(CancelHandler(mgr))
	register(CompleteHandler(mgr))
	register(ProgressHandler(mgr))
	register(SessionHandler(mgr))
	register(DownloadHandler(mgr))
	register(DownloadURLHandler(mgr))
	return result
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// writeError maps an upload error kind to its HTTP status
func writeError(w http.ResponseWriter, err error) error {
	var kind videoframe.Err
	if errors.As(err, &kind) {
		return httpresponse.Error(w, httpresponse.Err(kind.Status()).With(err.Error()))
	}
	return httpresponse.Error(w, err)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
}

package httphandler

import (
	"net/http"

	// Packages
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /config
// GET returns the limits and transfer mode the widget should use.
func ConfigHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/config", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), mgr.Config())
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Get: &openapi.Operation{
				Description: "Return upload limits and transfer mode",
			},
		})
}

// Path: /session/{uploadId}
// GET returns the current state of an upload.
func SessionHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/session/{uploadId}", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = getSession(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Get: &openapi.Operation{
				Description: "Return the state of an upload",
			},
		})
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func getSession(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	session, err := mgr.Session(r.PathValue("uploadId"))
	if err != nil {
		return writeError(w, err)
	}
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), session)
}

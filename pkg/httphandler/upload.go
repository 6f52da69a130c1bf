package httphandler

import (
	"net/http"

	// Packages
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// formOverhead allows for multipart boundaries and headers on top of the
	// largest accepted file
	formOverhead = 1 << 20
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /upload
// POST accepts a proxied upload as multipart/form-data (field name: "video").
// The response is returned once the file is validated, before the transfer
// to storage completes.
func UploadHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/upload", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				_ = upload(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Post: &openapi.Operation{
				Description: "Upload a video through the server (field name: \"video\"). Pass replace={uploadId} to cancel an earlier upload.",
			},
		})
}

// Path: /presign
// POST returns a presigned URL the client writes the video to directly.
func PresignHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/presign", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				_ = presign(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Post: &openapi.Operation{
				Description: "Create a direct upload and return a presigned write URL",
			},
		})
}

// Path: /upload/complete/{uploadId}
// POST reports that a direct upload has been written.
func CompleteHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/upload/complete/{uploadId}", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				_ = complete(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Post: &openapi.Operation{
				Description: "Validate and complete a direct upload",
			},
		})
}

// Path: /upload/{key}
// DELETE cancels the upload for a key and removes the stored object. It
// succeeds whether or not the object exists.
func CancelHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/upload/{key}", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodDelete:
				_ = cancel(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Delete: &openapi.Operation{
				Description: "Cancel an upload and delete its object",
			},
		})
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func upload(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	var query schema.UploadQuery
	if err := httprequest.Query(r.URL.Query(), &query); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	}

	// Read the multipart form
	if limit := mgr.Capabilities().MaxFileSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	}
	var form struct {
		Video []types.File `json:"video"`
	}
	if err := httprequest.Read(r, &form); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	}
	for _, f := range form.Video {
		defer f.Body.Close()
	}
	if len(form.Video) == 0 {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With("No video file uploaded"))
	} else if len(form.Video) > 1 {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("expected one video, got %d", len(form.Video)))
	}

	// Stage, validate and start the transfer
	f := form.Video[0]
	session, err := mgr.CreateUpload(r.Context(), manager.CreateUploadRequest{
		Filename:    f.Path,
		ContentType: f.ContentType,
		Body:        f.Body,
		Replace:     query.Replace,
	})
	if err != nil {
		return writeError(w, err)
	}

	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), schema.UploadResponse{
		Success:  true,
		UploadID: session.UploadID,
		File: schema.FileRef{
			URL: mgr.FileURL(session.Key),
			Key: session.Key,
		},
	})
}

func presign(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	var req schema.PresignRequest
	if err := httprequest.Read(r, &req); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	}
	response, err := mgr.Presign(r.Context(), req)
	if err != nil {
		return writeError(w, err)
	}
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), response)
}

func complete(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	session, err := mgr.CompleteUpload(r.Context(), r.PathValue("uploadId"))
	if err != nil {
		return writeError(w, err)
	}
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), schema.CompleteResponse{
		Success: true,
		Session: *session,
	})
}

func cancel(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	if err := mgr.CancelUpload(r.Context(), r.PathValue("key")); err != nil {
		return writeError(w, err)
	}
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), schema.DeleteResponse{
		Success: true,
	})
}

package httphandler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /download/{key}
// GET redirects to a presigned URL when the backend supports it, and
// otherwise streams the object as an attachment.
func DownloadHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/download/{key}", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = download(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Get: &openapi.Operation{
				Description: "Download a stored video",
			},
		})
}

// Path: /download/{key}/url
// GET returns a presigned read URL for the object.
func DownloadURLHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/download/{key}/url", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = downloadURL(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Get: &openapi.Operation{
				Description: "Return a presigned download URL for a stored video",
			},
		})
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func download(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	key := r.PathValue("key")

	// Prefer a redirect to the backend
	if mgr.CanPresign() {
		if url, err := mgr.GetDownloadURL(r.Context(), key); err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return nil
		} else if errors.Is(err, videoframe.ErrNotFound) {
			return writeDownloadError(w, err)
		}
	}

	// Stream through the server
	object, err := mgr.StreamObject(r.Context(), key)
	if err != nil {
		return writeDownloadError(w, err)
	}
	defer object.Stream.Close()

	contentType := object.ContentType
	if contentType == "" {
		contentType = types.ContentTypeBinary
	}
	w.Header().Set(types.ContentTypeHeader, contentType)
	if object.ContentLength >= 0 {
		w.Header().Set(types.ContentLengthHeader, strconv.FormatInt(object.ContentLength, 10))
	}
	filename := object.Filename
	if filename == "" {
		filename = key
	}
	if cd := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); cd != "" {
		w.Header().Set(types.ContentDispositonHeader, cd)
	}
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, object.Stream)
	return err
}

func downloadURL(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	key := r.PathValue("key")
	url, err := mgr.GetDownloadURL(r.Context(), key)
	if err != nil {
		return writeDownloadError(w, err)
	}
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), schema.DownloadURLResponse{
		Success: true,
		URL:     url,
		Key:     key,
	})
}

// writeDownloadError reports a missing object as "File not found"
func writeDownloadError(w http.ResponseWriter, err error) error {
	if errors.Is(err, videoframe.ErrNotFound) {
		return httpresponse.Error(w, httpresponse.ErrNotFound.With("File not found"))
	}
	return writeError(w, err)
}

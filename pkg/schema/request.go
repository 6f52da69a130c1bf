package schema

import (
	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PresignRequest asks for a direct-write URL.
type PresignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Replace     string `json:"replace,omitempty"` // upload id to cancel first
}

type PresignResponse struct {
	Success  bool   `json:"success"`
	UploadID string `json:"uploadId"`
	URL      string `json:"url"`
	Key      string `json:"key"`
}

// UploadQuery carries the optional query parameters of a proxied upload.
type UploadQuery struct {
	Replace string `json:"replace,omitempty"`
}

type UploadResponse struct {
	Success  bool    `json:"success"`
	UploadID string  `json:"uploadId"`
	File     FileRef `json:"file"`
}

type CompleteResponse struct {
	Success bool    `json:"success"`
	Session Session `json:"session"`
}

type DeleteResponse struct {
	Success bool `json:"success"`
}

type DownloadURLResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Key     string `json:"key"`
}

// ConfigResponse describes the limits the widget should enforce locally.
type ConfigResponse struct {
	Capabilities
	Mode    Mode   `json:"mode"`
	Backend string `json:"backend"`
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r PresignRequest) String() string {
	return types.Stringify(r)
}

func (r PresignResponse) String() string {
	return types.Stringify(r)
}

func (r UploadResponse) String() string {
	return types.Stringify(r)
}

func (r ConfigResponse) String() string {
	return types.Stringify(r)
}

package schema

////////////////////////////////////////////////////////////////////////////////
// TYPES

const (
	SchemaName = "videoframe"

	// FormField is the multipart form field carrying the video in a proxied upload.
	FormField = "video"

	// UploadIDHeader echoes the upload identifier on proxied upload responses.
	UploadIDHeader = "X-Upload-Id"
)

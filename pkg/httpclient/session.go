package httpclient

import (
	"context"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	client "github.com/mutablelogic/go-client"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Config returns the limits and default transfer mode of the server.
func (c *Client) Config(ctx context.Context) (*schema.ConfigResponse, error) {
	var response schema.ConfigResponse
	if err := c.DoWithContext(ctx, client.NewRequest(), &response, client.OptPath("config")); err != nil {
		return nil, err
	}
	return &response, nil
}

// Session returns the state of an upload.
func (c *Client) Session(ctx context.Context, uploadID string) (*schema.Session, error) {
	var response schema.Session
	if err := c.DoWithContext(ctx, client.NewRequest(), &response, client.OptPath("session", uploadID)); err != nil {
		return nil, err
	}
	return &response, nil
}

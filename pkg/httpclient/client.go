package httpclient

import (
	"net/http"

	// Packages
	client "github.com/mutablelogic/go-client"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Client is a video upload HTTP client that wraps the base HTTP client
// and provides typed methods for interacting with the upload API.
type Client struct {
	*client.Client

	// endpoint is the API root, used for requests which bypass the base
	// client such as the progress stream
	endpoint string

	// stream has no overall timeout, for long-lived and large transfers
	stream *http.Client
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a new upload client with the given base URL and options.
// The url parameter should point to the API prefix, e.g.
// "http://localhost:3000/embed".
func New(url string, opts ...client.ClientOpt) (*Client, error) {
	cl, err := client.New(append(opts, client.OptEndpoint(url))...)
	if err != nil {
		return nil, err
	}
	return &Client{
		Client:   cl,
		endpoint: url,
		stream: &http.Client{
			Transport: cl.Client.Transport,
		},
	}, nil
}

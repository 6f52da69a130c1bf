// Package httpclient provides a typed Go client for the video upload API,
// and an Uploader which drives a single upload from local validation through
// to a durable key.
//
// Create a client with:
//
//	client, err := httpclient.New("http://localhost:3000/embed")
//	if err != nil {
//	   panic(err)
//	}
//
// Then upload a video, following progress:
//
//	uploader, err := client.NewUploader(httpclient.WithProgress(func(evt schema.ProgressEvent) {
//	   fmt.Println(evt.Phase, evt.Percentage)
//	}))
//	session, err := uploader.Upload(ctx, "clip.mp4")
//
// Call uploader.Cancel from another goroutine to abort the transfer. The
// object is deleted in the background, and uploader.Wait returns once that
// has been attempted.
package httpclient

package httpapi

import "context"

// ImageUploader pushes an inline image reference (data URI) to an image
// host and returns the hosted URL.
//
// Real providers are wired by the application layer; the default keeps
// the reference as-is so the API works without an image host.
type ImageUploader interface {
	Upload(ctx context.Context, dataURI string) (url string, err error)
}

// PassthroughImageUploader returns the reference unchanged.
type PassthroughImageUploader struct{}

// Upload returns the input reference without contacting any host.
func (PassthroughImageUploader) Upload(_ context.Context, dataURI string) (string, error) {
	return dataURI, nil
}

package models

import "errors"

// Sentinel errors shared by the recommender packages.
// Use errors.Is() to classify errors returned by the service layer.
var (
	// ErrConfiguration indicates an unknown model name, a missing required
	// config field, or a model/embeddings pairing that cannot work together.
	// Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceExhausted indicates that evicting every loaded model still
	// did not free enough memory for the requested one.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrModelLoad indicates that a model artifact could not be read or
	// initialized, or a remote fetch failed.
	ErrModelLoad = errors.New("model load error")

	// ErrUnsupportedModelType indicates a model type outside the known set.
	ErrUnsupportedModelType = errors.New("unsupported model type")

	// ErrNotFound indicates the requested title or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

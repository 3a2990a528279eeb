package model

import "errors"

var (
	// ErrUnsupportedMediaType is returned when the upload is not declared as an image.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrImageDecode is returned when the bytes are not a decodable raster image.
	ErrImageDecode = errors.New("image decode failed")
	// ErrScoring covers any fault raised while scoring or aggregating.
	ErrScoring = errors.New("scoring failed")
)

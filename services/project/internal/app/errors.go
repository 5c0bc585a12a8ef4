package app

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrForbidden       = errors.New("forbidden")

	// ErrProjectProcessing is returned when an edit or render is attempted
	// while the pipeline is busy with the project.
	ErrProjectProcessing = errors.New("project is processing")
	ErrProjectCompleted  = errors.New("project already completed")
	ErrNotReadyToRender  = errors.New("project is not ready to render")

	ErrScriptEmpty   = errors.New("script content is empty")
	ErrInvalidScript = errors.New("invalid script content format")
	ErrNoAssets      = errors.New("no assets to render")

	ErrMissingContentType     = errors.New("missing content type")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

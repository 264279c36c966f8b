package render

import "path/filepath"

const (
	artifactExt = ".fbx"
	previewExt  = ".png"
)

// ArtifactPath is the deterministic output location for a render, keyed by
// requester email and upstream username. The preview endpoint resolves files
// through the same convention.
func ArtifactPath(outputRoot, email, username string) string {
	return filepath.Join(outputRoot, email, username+artifactExt)
}

// PreviewPath is where the renderer drops the preview image next to the
// artifact when previews are enabled.
func PreviewPath(outputRoot, email, username string) string {
	return filepath.Join(outputRoot, email, username+previewExt)
}

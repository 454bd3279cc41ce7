// Package pipeline orchestrates a full packaging run: staging, patch
// generation, artifact creation, manifest signing and the post steps,
// serialized per output directory by a run marker.
package pipeline

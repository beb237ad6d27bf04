// Package pipeline defines the content pipeline itself: the ordered stage
// set, the closed job status enum, the mapping from an interrupted status to
// its resumable value, and the schema-tagged payload envelope that crosses
// the stage-handler boundary.
//
// Components elsewhere in the tree stay pipeline-agnostic; everything that
// is specific to the research → outline → draft → export → complete
// sequence lives here.
package pipeline

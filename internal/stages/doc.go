// Package stages holds the built-in handlers for the content pipeline:
// research, outline, draft, export, and complete. Each handler validates
// its stage payload, performs the stage's transformation, and emits the
// payload the next stage consumes.
package stages

// Package services holds cross-cutting helpers shared by pipeline
// components: the error taxonomy used to classify stage failures and the
// context carriers that thread job/stage identity through call chains.
package services

// Package model defines the records, options, errors, and collaborator
// interfaces shared by the unfurl pipeline and crawl orchestrator.
package model

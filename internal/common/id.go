package common

import (
	"github.com/google/uuid"
)

// NewDocumentID generates a unique document ID with the "doc_" prefix
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewBuildRunID generates a unique id for one merge() invocation.
// Format: run_<uuid>
func NewBuildRunID() string {
	return "run_" + uuid.New().String()
}

// NewJobTaskID generates a unique id for one Job Manager submission.
// Format: task_<uuid>
func NewJobTaskID() string {
	return "task_" + uuid.New().String()
}

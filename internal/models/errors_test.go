package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	root := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
	}{
		{name: "scanner", err: &ScannerError{Path: "docs/a.txt", Err: root}},
		{name: "extraction", err: &ExtractionError{Path: "docs/a.pdf", Err: root}},
		{name: "embedding", err: &EmbeddingError{Provider: "openai", BatchSize: 32, Err: root}},
		{name: "persistence", err: &PersistenceError{Op: "file create", Err: root}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to process file: %w", tt.err)
			assert.True(t, errors.Is(wrapped, root), "unwrap chain should reach the root cause")
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := &EmbeddingError{Provider: "bedrock", BatchSize: 64, Retryable: true, Err: errors.New("throttled")}
	fatal := &EmbeddingError{Provider: "bedrock", BatchSize: 64, Retryable: false, Err: errors.New("bad request")}

	assert.True(t, IsRetryable(fmt.Errorf("batch failed: %w", retryable)))
	assert.False(t, IsRetryable(fatal))
	assert.False(t, IsRetryable(errors.New("unrelated")))
}

func TestIsConflict(t *testing.T) {
	opID := uuid.New()
	conflict := &ConflictError{OperationID: opID, Status: OperationRunning, Progress: 42}

	assert.True(t, IsConflict(fmt.Errorf("trigger rejected: %w", conflict)))
	assert.False(t, IsConflict(errors.New("something else")))
	assert.Contains(t, conflict.Error(), opID.String())
	assert.Contains(t, conflict.Error(), "42%")
}

func TestIsNotFound(t *testing.T) {
	nf := &NotFoundError{Resource: "tenant", ID: "acme"}
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", nf)))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.Equal(t, "tenant not found: acme", nf.Error())
}

package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUploadKey(t *testing.T) {
	ts := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	key := UploadKey(ts, "abc123", "flac")
	assert.Equal(t, "uploads/2026/03/abc123.flac", key)
}

func TestVisualKey(t *testing.T) {
	key := VisualKey("user-1", "task-9", "mindmap", 42, "svg")
	assert.Equal(t, "visuals/user-1/task-9/mindmap_42.svg", key)
}

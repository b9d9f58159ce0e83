package storage

import (
	"fmt"
	"time"
)

// UploadKey builds the content-addressed object key for an uploaded/
// transcoded audio artifact: uploads/{yyyy}/{mm}/{sha256}.{ext}.
func UploadKey(now time.Time, sha256Hex, ext string) string {
	return fmt.Sprintf("uploads/%04d/%02d/%s.%s", now.Year(), int(now.Month()), sha256Hex, ext)
}

// VisualKey builds the object key for a rendered visualization image:
// visuals/{user_id}/{task_id}/{type}_{summary_id}.{png|svg}.
func VisualKey(userID, taskID, visualType string, summaryID uint64, format string) string {
	return fmt.Sprintf("visuals/%s/%s/%s_%d.%s", userID, taskID, visualType, summaryID, format)
}

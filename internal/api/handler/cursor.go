package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/media-vetting/internal/archive"
)

func DecodeResultCursor(cursorStr string) (*archive.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	// job ids may contain '|', so split on the first separator only
	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var finishedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &finishedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid finishedAt in cursor: %w", err)
	}

	return &archive.Cursor{
		FinishedAt: time.Unix(0, finishedAt).UTC(),
		JobID:      decodedParts[1],
	}, nil
}

func EncodeResultCursor(cursor *archive.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.FinishedAt.UnixNano(), cursor.JobID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}

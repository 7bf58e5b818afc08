package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// Domain prefixes for derived identities. The version suffix leaves room
// for a future algorithm change without colliding with existing documents.
const (
	DomainEvent = "eggsync/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentID derives the remote document id for a queued event.
// Retried writes of the same event land on the same document.
func DocumentID(deviceID string, localID int64) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("DocumentID: empty device id")
	}
	if localID <= 0 {
		return "", fmt.Errorf("DocumentID: invalid local id %d", localID)
	}
	canonical, err := MarshalCanonical(map[string]any{
		"device_id": deviceID,
		"local_id":  localID,
	})
	if err != nil {
		return "", fmt.Errorf("DocumentID: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustDocumentID is like DocumentID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDocumentID(deviceID string, localID int64) string {
	id, err := DocumentID(deviceID, localID)
	if err != nil {
		panic(err)
	}
	return id
}

// BlobPath is the remote object path for an event's image.
// Format: images/<device>/<YYYY-MM-DD>/<document id><ext>
func BlobPath(ev DetectionEvent, contentType string, loc *time.Location) (string, error) {
	docID, err := DocumentID(ev.DeviceID, ev.LocalID)
	if err != nil {
		return "", err
	}
	return path.Join("images", safeSegment(ev.DeviceID), DayKey(ev.CapturedAt, loc), docID+extensionFor(contentType)), nil
}

// DayKey formats t as a calendar date in loc (UTC when loc is nil).
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func safeSegment(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}

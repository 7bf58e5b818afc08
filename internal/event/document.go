package event

import "time"

// DocumentVersion is bumped when the remote document layout changes.
const DocumentVersion = 1

// Document returns the fields upserted into the remote detections collection.
func Document(ev DetectionEvent) map[string]any {
	doc := map[string]any{
		"schema_version": DocumentVersion,
		"device_id":      ev.DeviceID,
		"local_id":       ev.LocalID,
		"batch_id":       ev.BatchID,
		"label":          string(ev.Label),
		"confidence":     ev.Confidence,
		"captured_at":    ev.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.ImagePath != "" {
		doc["image_path"] = ev.ImagePath
	}
	return doc
}

package api

import (
	"camgate/internal/logging"
	"camgate/internal/mount"
	"camgate/internal/version"
)

// HealthData is the health check payload.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service health status"`
	Message string `json:"message" example:"API is healthy" doc:"Human-readable status"`
}

// HealthResponse wraps the health payload.
type HealthResponse struct {
	Body HealthData
}

// VersionResponse wraps build metadata.
type VersionResponse struct {
	Body version.Info
}

// StreamsData lists all mounted streams.
type StreamsData struct {
	Streams []mount.StreamStatus `json:"streams" doc:"Mounted streams sorted by ID"`
	Count   int                  `json:"count" example:"12" doc:"Number of mounted streams"`
}

// StreamsResponse wraps the stream list.
type StreamsResponse struct {
	Body StreamsData
}

// StreamResponse wraps one stream's status.
type StreamResponse struct {
	Body mount.StreamStatus
}

// RegistryData describes the current desired-state snapshot.
type RegistryData struct {
	Origin              string `json:"origin" example:"remote" doc:"Snapshot origin: remote or fallback"`
	StreamCount         int    `json:"stream_count" example:"12" doc:"Streams in the snapshot"`
	FetchedAt           string `json:"fetched_at" example:"2025-01-27T10:30:00Z" doc:"When the snapshot was installed"`
	ConsecutiveFailures int    `json:"consecutive_failures" example:"0" doc:"Failed polls since last success"`
	RemoteSucceeded     bool   `json:"remote_succeeded" example:"true" doc:"Whether any remote fetch has succeeded"`
}

// RegistryResponse wraps registry status.
type RegistryResponse struct {
	Body RegistryData
}

// LogsData holds recent log entries from the ring buffer.
type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Log entries, oldest first"`
	Count   int                `json:"count" example:"100" doc:"Number of returned entries"`
}

// LogsResponse wraps recent logs.
type LogsResponse struct {
	Body LogsData
}

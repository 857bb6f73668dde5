package internal

import (
	"github.com/bytedance/sonic"
)

// Pipeline tags every progress message with which long-running job kind
// produced it (§4.8 GLOSSARY).
type Pipeline string

const (
	PipelineBatchEnrichment Pipeline = "batch_enrichment"
	PipelineCSVImport       Pipeline = "csv_import"
	PipelineAIScan          Pipeline = "ai_scan"
)

// MessageType is the `type` field of the progress envelope (§4.8).
type MessageType string

const (
	MsgJobStarted  MessageType = "job_started"
	MsgJobProgress MessageType = "job_progress"
	MsgJobComplete MessageType = "job_complete"
	MsgError       MessageType = "error"
	MsgPing        MessageType = "ping"
	MsgPong        MessageType = "pong"
	MsgReconnected MessageType = "reconnected"
)

// protocolVersion is the versioned string embedded in every message.
const protocolVersion = "1.0.0"

// Message is the envelope every progress-protocol frame shares (§4.8):
// {type, jobId, pipeline, timestamp, version, payload}.
type Message struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"jobId"`
	Pipeline  Pipeline    `json:"pipeline"`
	Timestamp string      `json:"timestamp"` // ISO-8601
	Version   string      `json:"version"`
	Payload   any         `json:"payload"`
}

// JobStartedPayload accompanies MsgJobStarted.
type JobStartedPayload struct {
	TotalCount int `json:"totalCount"`
}

// JobProgressPayload accompanies MsgJobProgress.
type JobProgressPayload struct {
	ProcessedCount int     `json:"processedCount"`
	TotalCount     int     `json:"totalCount"`
	Progress       float64 `json:"progress"`
	Index          int     `json:"index,omitempty"` // attribution for batch-image scans
}

// CompletionSummary is job_complete's summary-only payload (§4.8): the full
// result is never sent over the socket, only a resourceId to fetch it by.
type CompletionSummary struct {
	TotalProcessed int     `json:"totalProcessed"`
	SuccessCount   int     `json:"successCount"`
	FailureCount   int     `json:"failureCount"`
	Duration       float64 `json:"duration"` // seconds
	ResourceID     string  `json:"resourceId,omitempty"`
}

// ErrorPayload accompanies MsgError.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ReconnectedPayload accompanies MsgReconnected: the replayed current state.
type ReconnectedPayload struct {
	Status         JobStatus `json:"status"`
	ProcessedCount int       `json:"processedCount"`
	TotalCount     int       `json:"totalCount"`
	Progress       float64   `json:"progress"`
}

// serializeMessage / parseMessage are the round-trip pair §8 requires:
// parse(serialize(m)) ≅ m for every message type. sonic is the teacher's
// JSON library of choice for every wire payload.
func serializeMessage(m Message) ([]byte, error) {
	return sonic.Marshal(m)
}

func parseMessage(data []byte) (Message, error) {
	var m Message
	err := sonic.Unmarshal(data, &m)
	return m, err
}

// maxOutboundMessage is the WebSocket platform limit (§4.8); a send above
// this closes the connection with 1009.
const maxOutboundMessage = 32 * 1024 * 1024

// warnOutboundMessage is the size above which a send is merely logged, not
// rejected (§4.8).
const warnOutboundMessage = 1024 * 1024

// CloseCode is the WebSocket close-code taxonomy from §4.7/§9.
type CloseCode int

const (
	CloseNormal             CloseCode = 1000
	CloseCanceled           CloseCode = 1001
	CloseProtocolViolation  CloseCode = 1002
	ClosePolicy             CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseInternalError      CloseCode = 1011
	CloseServiceRestart     CloseCode = 1012
	CloseTryAgainLater      CloseCode = 1013
)

// retryable reports whether a client should reconnect after this close code,
// per §9: clients distinguish retryable (1011,1012,1013) from terminal
// (1000,1001,1008).
func (c CloseCode) retryable() bool {
	switch c {
	case CloseInternalError, CloseServiceRestart, CloseTryAgainLater:
		return true
	default:
		return false
	}
}

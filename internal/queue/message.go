package queue

import (
	"encoding/json"
	"fmt"
)

// MessageVersion is bumped when the payload shape changes.
const MessageVersion = 1

// FileRef points at one stored document.
type FileRef struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	DocumentType string `json:"documentType"`
	MimeType     string `json:"mimeType"`
	SizeBytes    int64  `json:"sizeBytes"`
}

// Message asks the analysis service to process one stored document. The
// service reports progress under JobID.
type Message struct {
	JobID      string  `json:"jobId"`
	StartupID  string  `json:"startupId"`
	File       FileRef `json:"file"`
	RequestID  string  `json:"requestId,omitempty"`
	EnqueuedAt string  `json:"enqueuedAt"`
	Version    int     `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.JobID == "" || msg.File.Key == "" {
		return nil, fmt.Errorf("queue message requires jobId and file key")
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version > MessageVersion {
		return Message{}, fmt.Errorf("unsupported queue message version %d", msg.Version)
	}
	return msg, nil
}

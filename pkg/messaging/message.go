package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"imagetotext/pkg/apperr"
)

// JobMessage is the payload consumed from the inbound queue.
// Text carries a Telegram file identifier, not human text.
type JobMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// ReplyMessage is the payload published to the reply queue.
// Text carries the extracted OCR text.
type ReplyMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// wireJob uses pointers so missing and null fields can be told apart from zero values.
type wireJob struct {
	ChatID *int64  `json:"chat_id"`
	Text   *string `json:"text"`
}

// DecodeJob parses a job payload. Missing fields, null fields and wrong
// field types all fail with apperr.ErrMalformedPayload.
func DecodeJob(body []byte) (JobMessage, error) {
	var w wireJob
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return JobMessage{}, fmt.Errorf("%w: %v", apperr.ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return JobMessage{}, fmt.Errorf("%w: trailing data after job object", apperr.ErrMalformedPayload)
	}
	if w.ChatID == nil {
		return JobMessage{}, fmt.Errorf("%w: missing chat_id", apperr.ErrMalformedPayload)
	}
	if w.Text == nil {
		return JobMessage{}, fmt.Errorf("%w: missing text", apperr.ErrMalformedPayload)
	}
	return JobMessage{ChatID: *w.ChatID, Text: *w.Text}, nil
}

// EncodeJob serializes a job payload.
func EncodeJob(job JobMessage) []byte {
	return mustMarshal(job)
}

// EncodeReply serializes a reply payload.
func EncodeReply(reply ReplyMessage) []byte {
	return mustMarshal(reply)
}

// NewReply builds the reply for a job, passing chat_id through untouched.
func NewReply(job JobMessage, text string) ReplyMessage {
	return ReplyMessage{ChatID: job.ChatID, Text: text}
}

// Both payload types are an int64 and a string, which json.Marshal always accepts.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("messaging: marshal %T: %v", v, err))
	}
	return data
}

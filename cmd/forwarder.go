package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/inlet/internal/handlers"
)

// downstreamForwarder delivers processed messages to the configured agent
// endpoint as JSON. Without an endpoint it logs the delivery, which is the
// mode used for local runs.
type downstreamForwarder struct {
	url    string
	client *http.Client
}

func newForwarder(url string) handlers.Forwarder {
	return &downstreamForwarder{
		url:    url,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type forwardPayload struct {
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Text           string              `json:"text,omitempty"`
	Attachments    []attachmentPayload `json:"attachments,omitempty"`
	AgentMode      bool                `json:"agent_mode"`
	ReplyToEventID int64               `json:"reply_to_event_id,omitempty"`
}

type attachmentPayload struct {
	Path string `json:"path"`
	MIME string `json:"mime"`
	Kind string `json:"kind"`
}

func (f *downstreamForwarder) Forward(ctx context.Context, req handlers.ForwardRequest) error {
	if f.url == "" {
		slog.Info("message processed (no downstream configured)",
			"conversation_id", req.ConversationID,
			"sender_id", req.SenderID,
			"text_len", len(req.Text),
			"attachments", len(req.Attachments),
			"agent_mode", req.AgentMode)
		return nil
	}

	payload := forwardPayload{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		AgentMode:      req.AgentMode,
		ReplyToEventID: req.ReplyToEventID,
	}
	for _, att := range req.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentPayload{
			Path: att.Path,
			MIME: att.MIME,
			Kind: string(att.Kind),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode forward payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("forward to downstream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("downstream returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

package control

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/interact"
	"github.com/MrWong99/adagate/pkg/types"
)

// dispatch routes one decoded client frame. It runs on the receiver task, so
// frames of one connection are always handled strictly in order.
func (h *Handler) dispatch(ctx context.Context, live *liveConn, in frame.Inbound) {
	switch in.Type {
	case frame.KindChat, frame.KindChatRequest:
		h.handleChat(ctx, live, in.Message, in.ThreadID)
	case frame.KindThesysBridge:
		// C1 action re-entry carries the synthesized prompt in the message
		// field and follows the ordinary chat path.
		h.handleChat(ctx, live, in.Message, in.ThreadID)
	case frame.KindUserInteraction:
		h.handleInteraction(ctx, live, in)
	case frame.KindConnectionConfig:
		live.log.Warn("duplicate connection_config ignored")
	default:
		live.log.Warn("unknown client frame kind", "kind", in.Type)
	}
}

// handleChat runs the text path: record the user turn, produce the assistant
// reply through the tool-aware wrapper while streaming chat tokens, then hand
// the reply to the worker as a text-source turn.
func (h *Handler) handleChat(ctx context.Context, live *liveConn, text, threadID string) {
	if text == "" {
		live.log.Debug("empty chat message ignored")
		return
	}
	cc := live.cc
	messageID := uuid.NewString()

	historyBefore := h.hist.Get(cc.ID, threadID)
	h.recordUser(cc.ID, threadID, text)

	reply, err := live.agent.Respond(ctx, historyBefore, text, func(token string) {
		h.enqueue(cc, frame.NewChatToken(messageID, token), live)
	})
	if err != nil {
		live.log.Error("chat turn failed", "error", err)
		h.enqueue(cc, frame.NewError(cc.ID, frame.CodeToolError, "chat turn failed"), live)
		return
	}
	if reply == "" {
		live.log.Debug("model produced empty reply", "thread_id", threadID)
		return
	}

	select {
	case cc.Input <- conn.Turn{Text: reply, Source: conn.SourceText, ThreadID: threadID, MessageID: messageID}:
	case <-ctx.Done():
	}
}

// handleInteraction normalizes a UI interaction, displays the synthetic user
// message, and triggers an AI turn when the interaction kind calls for one.
// Duplicates inside the dedup window are dropped entirely.
func (h *Handler) handleInteraction(ctx context.Context, live *liveConn, in frame.Inbound) {
	var interaction interact.Interaction
	if err := json.Unmarshal(in.Interaction, &interaction); err != nil {
		live.log.Warn("undecodable interaction", "error", err)
		return
	}
	if interaction.ThreadID == "" {
		interaction.ThreadID = in.ThreadID
	}
	if live.dedupe.Duplicate(interaction) {
		live.log.Debug("duplicate interaction suppressed", "kind", interaction.Type)
		return
	}

	norm, err := interact.Normalize(interaction)
	if err != nil {
		live.log.Warn("interaction rejected", "error", err)
		return
	}

	h.enqueue(live.cc, frame.Frame{
		Type:     frame.KindUserTranscription,
		ID:       uuid.NewString(),
		Role:     "user",
		Content:  norm.DisplayText,
		ThreadID: interaction.ThreadID,
	}, live)

	if !norm.TriggerAI {
		h.recordUser(live.cc.ID, interaction.ThreadID, norm.DisplayText)
		return
	}
	h.handleChat(ctx, live, norm.AIText, interaction.ThreadID)
}

// recordUser appends a user turn to in-memory and durable history.
func (h *Handler) recordUser(connID, threadID, text string) {
	msg := types.Message{Role: "user", Content: text}
	h.hist.Append(connID, threadID, msg)
	if h.archiver != nil {
		h.archiver.Record(connID, threadID, msg)
	}
}

// enqueue places a frame on the output queue without blocking the receiver.
func (h *Handler) enqueue(cc *conn.Context, f frame.Frame, live *liveConn) {
	select {
	case cc.Output <- f:
	default:
		live.log.Warn("output queue full, frame dropped", "kind", f.Type)
	}
}

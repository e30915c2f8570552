package main

import (
	"context"
	"log"
	"log/slog"
	"strings"

	"guitar-practice/aipractice"
	"guitar-practice/chat"
	"guitar-practice/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

type socketController struct {
	assistant *chat.Assistant
	bridge    *aipractice.Bridge
}

func newSocketController(assistant *chat.Assistant, bridge *aipractice.Bridge) *socketController {
	return &socketController{assistant: assistant, bridge: bridge}
}

func (c *socketController) emitBridgeInfo(socket socketio.Conn) {
	socket.Emit("bridgeInfo", c.bridge.Artifacts())
}

func (c *socketController) handleRequestBridgeInfo(socket socketio.Conn) {
	c.emitBridgeInfo(socket)
}

func (c *socketController) handleChatMessage(socket socketio.Conn, message string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	logger.InfoContext(ctx, "chatMessage received",
		slog.String("socketID", socket.ID()),
		slog.Int("messageLength", len(message)),
	)

	if strings.TrimSpace(message) == "" {
		socket.Emit("chatError", map[string]string{"message": "empty message"})
		return
	}

	if c.assistant == nil {
		socket.Emit("chatError", map[string]string{"message": "assistant is not configured"})
		return
	}

	var full strings.Builder
	err := c.assistant.RecommendStream(message, func(chunk string) error {
		full.WriteString(chunk)
		socket.Emit("chatChunk", map[string]string{"text": chunk})
		return nil
	})
	if err != nil {
		err := xerrors.New(err)
		log.Printf("[handleChatMessage] stream failed for socket %s: %v\n", socket.ID(), err)
		logger.ErrorContext(ctx, "assistant stream failed", slog.Any("error", err))
		socket.Emit("chatError", map[string]string{"message": "assistant request failed"})
		return
	}

	socket.Emit("chatComplete", map[string]string{"text": full.String()})
	logger.InfoContext(ctx, "chat response complete",
		slog.String("socketID", socket.ID()),
		slog.Int("responseLength", full.Len()),
	)
}

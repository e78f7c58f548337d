// Package wire streams structure tree updates to WebSocket clients. The
// stream is push only: the client gets the current tree on connect and a
// fresh copy on every change until it disconnects.
package wire

import (
	"context"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/stakahashi/tenken/internal/types"
)

// TreeSource is the subscription surface of the synchronizer.
type TreeSource interface {
	Subscribe() (<-chan *types.StructureTree, func())
}

// ServerMessage is the envelope for every message sent to a client.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Handler manages WebSocket connections for the live tree stream.
type Handler struct {
	src TreeSource
}

func NewHandler(src TreeSource) *Handler {
	return &Handler{src: src}
}

// ServeHTTP upgrades to WebSocket and pushes trees until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("wire: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	trees, cancel := h.src.Subscribe()
	defer cancel()

	// The client never sends application messages. Read anyway so control
	// frames are processed and a close is noticed promptly.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readClosed:
			return
		case tree, ok := <-trees:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "structure stream shut down")
				return
			}
			if err := h.send(ctx, conn, ServerMessage{Type: "tree", Data: tree}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		if websocket.CloseStatus(err) == -1 {
			log.Printf("wire: write error: %v", err)
		}
		return err
	}
	return nil
}

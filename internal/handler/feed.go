package handler

import (
	"log"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"library-lending/internal/event"
)

// FeedHandler streams inventory events to WebSocket clients. Each
// connection gets its own broker subscription; a client that stops
// reading has events dropped by the broker rather than stalling anyone
// else.
type FeedHandler struct {
	Broker *event.Broker
}

func NewFeedHandler(b *event.Broker) *FeedHandler {
	return &FeedHandler{Broker: b}
}

// Serve upgrades the request to a WebSocket and forwards events until the
// client disconnects or the broker shuts down. The server never reads
// from the socket; a failed send is the disconnect signal.
func (h *FeedHandler) Serve(c echo.Context) error {
	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		sub := h.Broker.Subscribe()
		defer h.Broker.Unsubscribe(sub)
		log.Printf("feed: client connected (%d active)", h.Broker.Count())

		for ev := range sub.C {
			if err := websocket.JSON.Send(ws, ev.Wire()); err != nil {
				break
			}
		}
		log.Printf("feed: client disconnected (%d active)", h.Broker.Count())
	}).ServeHTTP(c.Response(), c.Request())
	return nil
}

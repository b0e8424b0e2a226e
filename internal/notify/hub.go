// Package notify pushes loan events to the structures involved over WebSocket.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn は *websocket.Conn のうち Hub が使う部分
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	userID string
	conn   Conn
	mu     sync.Mutex // gorilla の Conn は同時書き込み不可
}

func (c *client) send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Hub は接続中のクライアントを組織ごとに管理する
type Hub struct {
	clients map[int64]map[*client]struct{}
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]map[*client]struct{})}
}

// Register は接続を登録し、解除用の関数を返す
func (h *Hub) Register(structureID int64, userID string, conn Conn) func() {
	c := &client{userID: userID, conn: conn}

	h.mu.Lock()
	set, ok := h.clients[structureID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[structureID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("[INFO] websocket client registered: user=%s structure=%d", userID, structureID)

	return func() { h.unregister(structureID, c) }
}

func (h *Hub) unregister(structureID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[structureID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, structureID)
	}
	log.Printf("[INFO] websocket client unregistered: user=%s structure=%d", c.userID, structureID)
}

// Count は組織に接続中のクライアント数
func (h *Hub) Count(structureID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[structureID])
}

// Broadcast は組織の全クライアントに送る。送れなかった接続は閉じて外す。
// 送信できた数を返す
func (h *Hub) Broadcast(structureID int64, message []byte) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[structureID]))
	for c := range h.clients[structureID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.send(message); err != nil {
			log.Printf("[WARN] websocket send failed: user=%s structure=%d: %v", c.userID, structureID, err)
			_ = c.conn.Close()
			h.unregister(structureID, c)
			continue
		}
		sent++
	}
	return sent
}

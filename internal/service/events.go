package service

import (
	"github.com/yourusername/prophecy-api/internal/websocket"
)

// EventBroadcaster рассылает доменные события всем подключенным клиентам.
// Сервисы зависят от интерфейса, а не от *websocket.Manager напрямую,
// чтобы в тестах подменять рассылку записывающей заглушкой.
type EventBroadcaster interface {
	BroadcastEvent(eventType string, data interface{}) error
}

var _ EventBroadcaster = (*websocket.Manager)(nil)

package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub реализует HubInterface и записывает отправленное
type fakeHub struct {
	mu         sync.Mutex
	broadcasts []interface{}
	direct     map[string][]interface{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{direct: make(map[string][]interface{})}
}

func (h *fakeHub) BroadcastJSON(v interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, v)
	return nil
}

func (h *fakeHub) SendJSONToUser(userID string, v interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct[userID] = append(h.direct[userID], v)
	return nil
}

func (h *fakeHub) SendToUser(userID string, message []byte) bool { return true }

func (h *fakeHub) GetMetrics() map[string]interface{} {
	return map[string]interface{}{"total_clients": 0}
}

func (h *fakeHub) ClientCount() int { return 0 }

func TestManager_BroadcastEvent_WireShape(t *testing.T) {
	// Arrange
	hub := newFakeHub()
	manager := NewManager(hub)

	// Act
	err := manager.BroadcastEvent("prophecy:updated", map[string]interface{}{
		"id":           3,
		"rating_count": 4,
	})

	// Assert: на проводе ровно {"type": ..., "data": ...}
	require.NoError(t, err)
	require.Len(t, hub.broadcasts, 1)
	raw, err := json.Marshal(hub.broadcasts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"prophecy:updated","data":{"id":3,"rating_count":4}}`, string(raw))
}

func TestManager_SendEventToUser(t *testing.T) {
	// Arrange
	hub := newFakeHub()
	manager := NewManager(hub)

	// Act
	err := manager.SendEventToUser("5", "badge:awarded", map[string]string{"key": "activity_first_prophecy"})

	// Assert
	require.NoError(t, err)
	require.Len(t, hub.direct["5"], 1)
	event, ok := hub.direct["5"][0].(Event)
	require.True(t, ok)
	assert.Equal(t, "badge:awarded", event.Type)
}

func TestManager_HandleMessage_DispatchesToHandler(t *testing.T) {
	// Arrange
	hub := newFakeHub()
	manager := NewManager(hub)
	client := &Client{UserID: "5"}

	var received json.RawMessage
	manager.RegisterHandler("rating:submit", func(data json.RawMessage, c *Client) error {
		received = data
		return nil
	})

	// Act
	err := manager.HandleMessage([]byte(`{"type":"rating:submit","data":{"prophecy_id":3,"value":7}}`), client)

	// Assert: обработчик получает только поле data
	require.NoError(t, err)
	assert.JSONEq(t, `{"prophecy_id":3,"value":7}`, string(received))
}

func TestManager_HandleMessage_UnknownTypeKeepsConnection(t *testing.T) {
	// Arrange
	hub := newFakeHub()
	manager := NewManager(hub)
	client := &Client{UserID: "5"}

	// Act
	err := manager.HandleMessage([]byte(`{"type":"no:such:type","data":{}}`), client)

	// Assert: соединение не закрывается, клиент получает server:error
	require.NoError(t, err)
	require.Len(t, hub.direct["5"], 1)
	event := hub.direct["5"][0].(Event)
	assert.Equal(t, SERVER_ERROR, event.Type)
	payload := event.Data.(map[string]string)
	assert.Equal(t, "unknown_message_type", payload["code"])
}

func TestManager_HandleMessage_MalformedJSONClosesConnection(t *testing.T) {
	// Arrange
	hub := newFakeHub()
	manager := NewManager(hub)
	client := &Client{UserID: "5"}

	// Act
	err := manager.HandleMessage([]byte(`{"type": брошенный json`), client)

	// Assert: ошибка разбора возвращается и соединение закрывается
	require.Error(t, err)
	require.Len(t, hub.direct["5"], 1)
	event := hub.direct["5"][0].(Event)
	assert.Equal(t, SERVER_ERROR, event.Type)
	payload := event.Data.(map[string]string)
	assert.Equal(t, "invalid_message_format", payload["code"])
}

func TestManager_HandleMessage_HandlerErrorPropagates(t *testing.T) {
	// Arrange
	hub := newFakeHub()
	manager := NewManager(hub)
	client := &Client{UserID: "5"}
	handlerErr := errors.New("обработчик не справился")
	manager.RegisterHandler("rating:submit", func(data json.RawMessage, c *Client) error {
		return handlerErr
	})

	// Act
	err := manager.HandleMessage([]byte(`{"type":"rating:submit","data":{}}`), client)

	// Assert
	assert.ErrorIs(t, err, handlerErr)
}

package websocket

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Клиенты создаются без реального соединения: ветки доставки и отключения
// работают с каналом send, conn проверяется на nil.

func TestShard_SlowSubscriberPrunedWithoutBlockingOthers(t *testing.T) {
	// Arrange: медленный клиент с буфером на одно сообщение и здоровый клиент
	shard := NewShard(0, nil, 10, 0, 0)
	slow := NewClientWithConfig(shard, nil, "slow", ClientConfig{BufferSize: 1})
	healthy := NewClientWithConfig(shard, nil, "healthy", ClientConfig{BufferSize: 16})
	shard.handleRegister(slow)
	shard.handleRegister(healthy)

	// Забиваем буфер медленного клиента
	stuffed := []byte(`{"type":"server:heartbeat","data":{}}`)
	slow.send <- stuffed

	// Act: после maxBufferWarnings переполнений клиент отключается
	var payloads [][]byte
	for i := 0; i < maxBufferWarnings; i++ {
		payload := []byte(fmt.Sprintf(`{"type":"rating:created","data":{"seq":%d}}`, i))
		payloads = append(payloads, payload)
		shard.handleBroadcast(payload)
	}

	// Assert: медленный клиент удален из реестра, канал закрыт
	assert.Equal(t, 1, shard.GetClientCount(), "в реестре остается только здоровый клиент")
	assert.True(t, slow.IsSendClosed(), "канал отключенного клиента закрыт")
	assert.False(t, healthy.IsSendClosed())
	assert.False(t, shard.SendToUser("slow", stuffed), "отключенный клиент недостижим")

	// Здоровый клиент получил все сообщения в порядке рассылки
	require.Len(t, healthy.send, maxBufferWarnings)
	for i := 0; i < maxBufferWarnings; i++ {
		assert.Equal(t, string(payloads[i]), string(<-healthy.send))
	}

	// В закрытом канале осталось только то, что было до переполнения
	first, ok := <-slow.send
	require.True(t, ok)
	assert.Equal(t, string(stuffed), string(first))
	_, ok = <-slow.send
	assert.False(t, ok, "после дренажа канал отдает закрытие")

	metrics := shard.GetMetrics()
	assert.Equal(t, int64(1), metrics["connection_errors"])
}

func TestShard_BroadcastOrderPreservedPerSubscriber(t *testing.T) {
	// Arrange: единственный потребитель канала broadcast - цикл Run
	shard := NewShard(1, nil, 10, 0, 0)
	go shard.Run()
	defer shard.Close()

	client := NewClientWithConfig(shard, nil, "subscriber", ClientConfig{BufferSize: 16})
	shard.register <- client
	select {
	case <-client.registrationComplete:
	case <-time.After(2 * time.Second):
		t.Fatal("клиент не зарегистрировался за отведенное время")
	}

	// Act: очередь из пяти сообщений одной мутации
	const total = 5
	for i := 0; i < total; i++ {
		shard.BroadcastBytes([]byte(fmt.Sprintf(`{"type":"prophecy:updated","data":{"seq":%d}}`, i)))
	}

	// Assert: подписчик наблюдает сообщения строго в порядке постановки
	for i := 0; i < total; i++ {
		select {
		case msg := <-client.send:
			assert.JSONEq(t, fmt.Sprintf(`{"type":"prophecy:updated","data":{"seq":%d}}`, i), string(msg))
		case <-time.After(2 * time.Second):
			t.Fatalf("сообщение %d не доставлено", i)
		}
	}
}

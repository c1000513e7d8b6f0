package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Shard представляет подмножество клиентов хаба.
// Каждый шард обрабатывает свою группу клиентов независимо,
// что значительно улучшает производительность при большом числе соединений.
// Цикл Run является единственным потребителем канала broadcast,
// поэтому события доставляются клиентам шарда в порядке постановки.
type Shard struct {
	id         int           // Уникальный ID шарда
	clients    sync.Map      // Ключ: *Client, Значение: bool
	userMap    sync.Map      // Карта UserID -> *Client
	broadcast  chan []byte   // Канал для широковещательных сообщений шарда
	register   chan *Client  // Канал для регистрации клиентов в шарде
	unregister chan *Client  // Канал для отмены регистрации клиентов из шарда
	done       chan struct{} // Сигнал для завершения работы шарда
	metrics    *ShardMetrics // Метрики производительности шарда
	parent     interface{}   // Ссылка на родительский хаб (ShardedHub)
	maxClients int           // Максимальное рекомендуемое количество клиентов в шарде

	// Настройки для очистки
	cleanupInterval   time.Duration
	inactivityTimeout time.Duration
}

// ShardMetrics содержит метрики для отдельного шарда
type ShardMetrics struct {
	id                     int
	activeConnections      int64
	messagesSent           int64
	messagesReceived       int64
	connectionErrors       int64
	inactiveClientsRemoved int64
	lastCleanupTime        time.Time
	mu                     sync.RWMutex
}

// NewShard создает новый шард
func NewShard(id int, parent interface{}, maxClients int, cleanupInterval time.Duration, inactivityTimeout time.Duration) *Shard {
	if maxClients <= 0 {
		maxClients = 2000 // Значение по умолчанию
	}

	shard := &Shard{
		id:         id,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		done:       make(chan struct{}),
		metrics: &ShardMetrics{
			id:              id,
			lastCleanupTime: time.Now(),
		},
		parent:            parent,
		maxClients:        maxClients,
		cleanupInterval:   cleanupInterval,
		inactivityTimeout: inactivityTimeout,
	}

	// Запускаем горутину для периодической очистки
	go shard.runCleanupTicker()

	log.Printf("[Шард %d] Создан с максимальным количеством клиентов %d", id, maxClients)
	return shard
}

// Run запускает цикл обработки сообщений шарда
func (s *Shard) Run() {
	for {
		select {
		case client := <-s.register:
			s.handleRegister(client)
		case client := <-s.unregister:
			s.handleUnregister(client)
		case message := <-s.broadcast:
			s.handleBroadcast(message)
		case <-s.done:
			log.Printf("[Шард %d] Получен сигнал завершения работы, останавливаемся", s.id)
			s.cleanupAllClients()
			return
		}
	}
}

// handleRegister регистрирует клиента в шарде
func (s *Shard) handleRegister(client *Client) {
	// Проверяем существующего клиента с тем же UserID
	if existingClient, loaded := s.userMap.LoadOrStore(client.UserID, client); loaded {
		oldClient, ok := existingClient.(*Client)
		if ok && oldClient != client {
			log.Printf("Shard %d: replacing client %s with new connection", s.id, client.UserID)

			// Создаем отложенное закрытие старого соединения
			go func() {
				time.Sleep(500 * time.Millisecond)
				s.clients.Delete(oldClient)
				s.userMap.CompareAndDelete(client.UserID, oldClient)

				if oldClient.conn != nil {
					oldClient.conn.Close()
				}
				oldClient.CloseSend()

				s.metrics.mu.Lock()
				s.metrics.activeConnections--
				s.metrics.mu.Unlock()
			}()
		}
	}

	// Регистрируем нового клиента
	s.clients.Store(client, true)
	client.lastActivity = time.Now()

	// Обновляем метрики
	s.metrics.mu.Lock()
	s.metrics.activeConnections++
	s.metrics.mu.Unlock()

	log.Printf("Shard %d: client %s registered", s.id, client.UserID)

	// Сигнал о завершении регистрации
	if client.registrationComplete != nil {
		select {
		case client.registrationComplete <- struct{}{}:
		default:
		}
	}
}

// handleUnregister удаляет клиента из шарда
func (s *Shard) handleUnregister(client *Client) {
	if _, ok := s.clients.LoadAndDelete(client); ok {
		// Удаляем из userMap, только если это тот же экземпляр
		if existingClient, loaded := s.userMap.Load(client.UserID); loaded {
			if existingClient == client {
				s.userMap.Delete(client.UserID)
			}
		}

		// Закрываем соединение
		if client.conn != nil {
			client.conn.Close()
		}
		// Безопасно закрываем канал отправки
		client.CloseSend()

		// Обновляем метрики
		s.metrics.mu.Lock()
		s.metrics.activeConnections--
		s.metrics.mu.Unlock()

		log.Printf("Shard %d: client %s unregistered", s.id, client.UserID)
	}
}

// handleBroadcast отправляет сообщение всем клиентам шарда.
// Медленный клиент не задерживает остальных: при переполнении его буфера
// сообщение для него пропускается, а после нескольких предупреждений
// клиент удаляется из реестра.
func (s *Shard) handleBroadcast(message []byte) {
	var clientCount int

	messageType := messageTypeFromBytes(message)

	s.clients.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true // Пропускаем некорректные записи
		}

		clientCount++
		select {
		case client.send <- message:
			// Сообщение успешно отправлено в буфер клиента
			client.resetBufferWarningCount()
		default:
			// Буфер клиента переполнен
			log.Printf("[Shard %d] Client %s (Conn: %s) buffer full during broadcast. Current warning count: %d", s.id, client.UserID, client.ConnectionID, client.getBufferWarningCount())

			newCount := client.incrementBufferWarningCount()

			if newCount >= maxBufferWarnings {
				log.Printf("[Shard %d] Client %s (Conn: %s) exceeded max buffer warnings (%d). Unregistering.", s.id, client.UserID, client.ConnectionID, maxBufferWarnings)
				// Отключаем клиента, если превышен порог
				s.clients.Delete(client)

				if existingClient, loaded := s.userMap.Load(client.UserID); loaded && existingClient == client {
					s.userMap.Delete(client.UserID)
				}

				if client.conn != nil {
					client.conn.Close()
				}
				client.CloseSend()

				// Обновляем метрики
				s.metrics.mu.Lock()
				if s.metrics.activeConnections > 0 {
					s.metrics.activeConnections--
				}
				s.metrics.connectionErrors++
				s.metrics.mu.Unlock()
			} else {
				// Отправляем предупреждение клиенту
				log.Printf("[Shard %d] Sending buffer warning %d/%d to client %s (Conn: %s)", s.id, newCount, maxBufferWarnings, client.UserID, client.ConnectionID)
				warningMsg := map[string]interface{}{
					"type": "server:buffer_warning",
					"data": map[string]interface{}{
						"warning_count": newCount,
						"max_warnings":  maxBufferWarnings,
						"message":       "Your connection is slow or buffer is full. You may be disconnected soon.",
					},
				}
				jsonWarning, _ := json.Marshal(warningMsg)
				// Попытка отправить предупреждение неблокирующим способом
				select {
				case client.send <- jsonWarning:
				default:
					log.Printf("[Shard %d] Failed to send buffer warning message to client %s (Conn: %s) - buffer still full.", s.id, client.UserID, client.ConnectionID)
				}
			}
		}
		return true
	})

	// Обновляем метрики
	if clientCount > 0 {
		s.metrics.mu.Lock()
		s.metrics.messagesSent += int64(clientCount)
		s.metrics.mu.Unlock()
	}

	if messageType != "" {
		log.Printf("Shard %d: message of type %s broadcast to %d clients", s.id, messageType, clientCount)
	} else {
		log.Printf("Shard %d: message broadcast to %d clients", s.id, clientCount)
	}
}

// runCleanupTicker запускает тикер для периодической очистки
func (s *Shard) runCleanupTicker() {
	// Не запускаем тикер, если интервал не задан
	if s.cleanupInterval <= 0 {
		log.Printf("[Shard %d] Очистка неактивных клиентов отключена (интервал <= 0)", s.id)
		return
	}

	log.Printf("[Shard %d] Запуск рутины очистки каждые %v с таймаутом %v", s.id, s.cleanupInterval, s.inactivityTimeout)
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupInactiveClients(s.inactivityTimeout)
		case <-s.done:
			log.Printf("[Shard %d] Остановка рутины очистки", s.id)
			return
		}
	}
}

// cleanupInactiveClients проверяет и инициирует удаление неактивных клиентов
func (s *Shard) cleanupInactiveClients(timeout time.Duration) {
	inactiveCount := 0
	s.clients.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true
		}

		// Проверяем время последней активности
		if time.Since(client.lastActivity) > timeout {
			inactiveCount++
			log.Printf("[Shard %d Cleanup] Найден неактивный клиент %s (ConnID: %s). Последняя активность: %v. Инициируем удаление.",
				s.id, client.UserID, client.ConnectionID, client.lastActivity)

			// Отправляем клиента в канал unregister для безопасного удаления
			// Используем неблокирующую отправку, чтобы не зависнуть здесь
			select {
			case s.unregister <- client:
				// Успешно отправлен на удаление
			default:
				log.Printf("[Shard %d Cleanup] WARN: Канал unregister переполнен, не удалось инициировать удаление клиента %s (ConnID: %s)",
					s.id, client.UserID, client.ConnectionID)
			}
		}
		return true
	})

	if inactiveCount > 0 {
		s.metrics.mu.Lock()
		s.metrics.inactiveClientsRemoved += int64(inactiveCount)
		s.metrics.lastCleanupTime = time.Now()
		s.metrics.mu.Unlock()
		log.Printf("[Shard %d Cleanup] Найдено %d неактивных клиентов для потенциального удаления.", s.id, inactiveCount)
	}
}

// cleanupAllClients закрывает все соединения перед остановкой шарда
func (s *Shard) cleanupAllClients() {
	s.clients.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true
		}

		if client.conn != nil {
			client.conn.Close()
		}
		client.CloseSend()

		s.clients.Delete(client)
		return true
	})

	log.Printf("Shard %d: all clients cleanup completed", s.id)
}

// SendToUser отправляет сообщение конкретному пользователю в шарде
func (s *Shard) SendToUser(userID string, message []byte) bool {
	clientInterface, exists := s.userMap.Load(userID)
	if !exists {
		return false
	}

	client, ok := clientInterface.(*Client)
	if !ok {
		return false
	}

	select {
	case client.send <- message:
		s.metrics.mu.Lock()
		s.metrics.messagesSent++
		s.metrics.mu.Unlock()
		// Сбрасываем счетчик при успешной прямой отправке
		client.resetBufferWarningCount()
		return true
	default:
		// Буфер клиента переполнен
		log.Printf("[Shard %d] Client %s (Conn: %s) buffer full on direct message. Current warning count: %d", s.id, userID, client.ConnectionID, client.getBufferWarningCount())

		newCount := client.incrementBufferWarningCount()

		if newCount >= maxBufferWarnings {
			log.Printf("[Shard %d] Client %s (Conn: %s) exceeded max buffer warnings (%d) on direct message. Unregistering.", s.id, client.UserID, client.ConnectionID, maxBufferWarnings)
			s.clients.Delete(client)

			if existingClient, loaded := s.userMap.Load(client.UserID); loaded && existingClient == client {
				s.userMap.Delete(client.UserID)
			}

			if client.conn != nil {
				client.conn.Close()
			}
			client.CloseSend()

			s.metrics.mu.Lock()
			if s.metrics.activeConnections > 0 {
				s.metrics.activeConnections--
			}
			s.metrics.connectionErrors++
			s.metrics.mu.Unlock()
			return false // Сообщение не доставлено, клиент отключен
		}

		// Отправляем предупреждение
		log.Printf("[Shard %d] Sending buffer warning %d/%d to client %s (Conn: %s) on direct message", s.id, newCount, maxBufferWarnings, client.UserID, client.ConnectionID)
		warningMsg := map[string]interface{}{
			"type": "server:buffer_warning",
			"data": map[string]interface{}{
				"warning_count": newCount,
				"max_warnings":  maxBufferWarnings,
				"message":       "Your connection is slow or buffer is full. You may be disconnected soon.",
			},
		}
		jsonWarning, _ := json.Marshal(warningMsg)
		select {
		case client.send <- jsonWarning:
		default:
			log.Printf("[Shard %d] Failed to send buffer warning message to client %s (Conn: %s) - buffer still full.", s.id, client.UserID, client.ConnectionID)
		}
		return false // Сообщение не доставлено, но клиент пока не отключен
	}
}

// BroadcastBytes ставит байтовое сообщение в очередь рассылки шарда
func (s *Shard) BroadcastBytes(message []byte) {
	select {
	case s.broadcast <- message:
		// Сообщение успешно отправлено в канал рассылки
	default:
		log.Printf("Shard %d: broadcast channel full, message dropped", s.id)
	}
}

// BroadcastJSON рассылает JSON-сообщение всем клиентам в шарде
func (s *Shard) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.BroadcastBytes(data)
	return nil
}

// GetMetrics возвращает метрики шарда
func (s *Shard) GetMetrics() map[string]interface{} {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	clientCount := s.GetClientCount()
	loadPercentage := float64(clientCount) / float64(s.maxClients) * 100

	return map[string]interface{}{
		"shard_id":           s.id,
		"active_connections": clientCount,
		"max_clients":        s.maxClients,
		"messages_sent":      s.metrics.messagesSent,
		"messages_received":  s.metrics.messagesReceived,
		"connection_errors":  s.metrics.connectionErrors,
		"load_percentage":    loadPercentage,
		"last_cleanup":       s.metrics.lastCleanupTime.Format(time.RFC3339),
		"inactive_removed":   s.metrics.inactiveClientsRemoved,
	}
}

// GetClientCount возвращает количество активных клиентов в шарде
func (s *Shard) GetClientCount() int {
	var count int
	s.clients.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// Close закрывает шард и освобождает ресурсы
func (s *Shard) Close() {
	close(s.done)
}

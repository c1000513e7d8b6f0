package websocket

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/yourusername/prophecy-api/internal/config"
)

// ShardedHub представляет собой хаб с шардированием клиентов
// для эффективной обработки большого числа подключений.
//
// Рассылка событий выполняется синхронной постановкой в FIFO-канал
// каждого шарда: два последовательных вызова BroadcastBytes из одной
// горутины доходят до каждого подписчика в порядке вызова. Публикация
// в кластер выведена в отдельную горутину, чтобы сетевые задержки
// Redis не блокировали вызывающего.
type ShardedHub struct {
	// Шарды для распределения клиентов
	shards []*Shard

	// Количество шардов
	shardCount int

	// Максимальное количество клиентов в шарде
	maxClientsPerShard int

	// Менеджер метрик
	metrics *HubMetrics

	// Компонент для межсерверного взаимодействия
	cluster *ClusterHub

	// Очередь исходящих публикаций в кластер.
	// Единственный потребитель сохраняет порядок публикаций.
	clusterOut chan []byte

	// Канал для завершения работы фоновых горутин
	done chan struct{}

	// Канал для алертинга
	alertChan chan AlertMessage

	// Функция для обработки алертов (может быть заменена пользователем)
	alertHandler func(AlertMessage)

	// Мьютекс для безопасной работы с alertHandler
	alertMu sync.RWMutex

	// Хранилище информации о других узлах кластера
	clusterPeers sync.Map // Ключ: InstanceID, Значение: map[string]interface{}
}

// AlertType определяет тип алерта
type AlertType string

const (
	// AlertHotShard сигнализирует о "горячем" шарде
	AlertHotShard AlertType = "hot_shard"

	// AlertMessageLoss сигнализирует о потерянных сообщениях
	AlertMessageLoss AlertType = "message_loss"

	// AlertBufferOverflow сигнализирует о переполнении буфера
	AlertBufferOverflow AlertType = "buffer_overflow"
)

// AlertSeverity определяет уровень серьезности алерта
type AlertSeverity string

const (
	// AlertInfo информационный уровень
	AlertInfo AlertSeverity = "info"

	// AlertWarning уровень предупреждения
	AlertWarning AlertSeverity = "warning"

	// AlertCritical критический уровень
	AlertCritical AlertSeverity = "critical"
)

// AlertMessage представляет сообщение алерта
type AlertMessage struct {
	// Тип алерта
	Type AlertType `json:"type"`

	// Уровень серьезности
	Severity AlertSeverity `json:"severity"`

	// Сообщение
	Message string `json:"message"`

	// Метаданные алерта
	Metadata map[string]interface{} `json:"metadata"`

	// Время создания
	Timestamp time.Time `json:"timestamp"`
}

// Проверка компилятором, что ShardedHub реализует интерфейс HubInterface
var _ HubInterface = (*ShardedHub)(nil)

// Проверка компилятором, что ShardedHub реализует интерфейс ClusterAwareHub
var _ ClusterAwareHub = (*ShardedHub)(nil)

// NewShardedHub создает новый ShardedHub с указанной конфигурацией и Pub/Sub провайдером
func NewShardedHub(wsConfig config.WebSocketConfig, provider PubSubProvider) *ShardedHub {
	shardCount := wsConfig.Sharding.ShardCount
	if shardCount <= 0 {
		shardCount = 4 // Значение по умолчанию
		log.Printf("[ShardedHub] Используется количество шардов по умолчанию: %d", shardCount)
	}
	maxClientsPerShard := wsConfig.Sharding.MaxClientsPerShard
	if maxClientsPerShard <= 0 {
		maxClientsPerShard = 5000 // Значение по умолчанию
		log.Printf("[ShardedHub] Используется макс. клиентов на шард по умолчанию: %d", maxClientsPerShard)
	}

	hub := &ShardedHub{
		shardCount:         shardCount,
		maxClientsPerShard: maxClientsPerShard,
		metrics:            NewHubMetrics(),
		clusterOut:         make(chan []byte, 1024),
		done:               make(chan struct{}),
		alertChan:          make(chan AlertMessage, 1000),
	}

	// Инициализируем обработчик алертов по умолчанию
	hub.alertHandler = hub.defaultAlertHandler

	// Создаем шарды
	hub.shards = make([]*Shard, shardCount)
	for i := 0; i < shardCount; i++ {
		cleanupInterval := time.Duration(wsConfig.Limits.CleanupInterval) * time.Second
		if cleanupInterval <= 0 {
			cleanupInterval = 5 * time.Minute
			log.Printf("[ShardedHub] Используется интервал очистки по умолчанию: %v", cleanupInterval)
		}
		// Считаем, что PongWait уже включает в себя необходимый запас времени
		// и является подходящим таймаутом неактивности.
		inactivityTimeout := time.Duration(wsConfig.Limits.PongWait) * time.Second
		if inactivityTimeout <= 0 {
			inactivityTimeout = 60 * time.Second
			log.Printf("[ShardedHub] Используется таймаут неактивности по умолчанию: %v", inactivityTimeout)
		}

		hub.shards[i] = NewShard(i, hub, maxClientsPerShard, cleanupInterval, inactivityTimeout)
		// Запускаем каждый шард в отдельной горутине
		go hub.shards[i].Run()
	}

	// Создаем компонент для кластерного режима
	hub.cluster = NewClusterHub(hub, wsConfig.Cluster, provider)

	log.Printf("ShardedHub создан с %d шардами", hub.shardCount)
	return hub
}

// defaultAlertHandler обрабатывает алерты по умолчанию - просто логирует их
func (h *ShardedHub) defaultAlertHandler(alert AlertMessage) {
	switch alert.Severity {
	case AlertCritical:
		log.Printf("[КРИТИЧЕСКИЙ АЛЕРТ] %s: %s", alert.Type, alert.Message)
	case AlertWarning:
		log.Printf("[ПРЕДУПРЕЖДЕНИЕ] %s: %s", alert.Type, alert.Message)
	default:
		log.Printf("[ИНФО] %s: %s", alert.Type, alert.Message)
	}

	metadataJson, _ := json.Marshal(alert.Metadata)
	log.Printf("[АЛЕРТ ДЕТАЛИ] %s", string(metadataJson))
}

// SetAlertHandler устанавливает пользовательский обработчик алертов
func (h *ShardedHub) SetAlertHandler(handler func(AlertMessage)) {
	h.alertMu.Lock()
	defer h.alertMu.Unlock()
	h.alertHandler = handler
}

// SendAlert отправляет алерт
func (h *ShardedHub) SendAlert(alertType AlertType, severity AlertSeverity, message string, metadata map[string]interface{}) {
	alert := AlertMessage{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}

	// Отправляем неблокирующим способом
	select {
	case h.alertChan <- alert:
		// Успешно отправлено
	default:
		// Буфер алертов переполнен, логируем это напрямую
		log.Printf("[ПЕРЕПОЛНЕНИЕ БУФЕРА АЛЕРТОВ] %s: %s", alertType, message)
	}
}

// Run запускает фоновые горутины хаба и ждет завершения.
// ВАЖНО: шарды уже запущены в NewShardedHub, здесь НЕ запускаем их повторно!
func (h *ShardedHub) Run() {
	log.Printf("ShardedHub: запуск с %d шардами, до %d клиентов на шард",
		h.shardCount, h.maxClientsPerShard)

	// Запускаем периодический сбор метрик
	go h.runMetricsCollector()

	// Запускаем публикацию исходящих сообщений в кластер
	go h.runClusterPublisher()

	// Запускаем кластерный компонент
	if err := h.cluster.Start(); err != nil {
		log.Printf("ShardedHub: ошибка запуска кластерного компонента: %v", err)
	}

	// Запускаем обработчик алертов
	go h.handleAlerts()

	// Ожидаем сигнал завершения работы
	<-h.done
	log.Println("ShardedHub: завершение работы")
}

// getShardID вычисляет ID шарда для указанного userID
func (h *ShardedHub) getShardID(userID string) int {
	if userID == "" {
		// Для пустых userID используем псевдослучайное значение на основе времени
		// вместо всегда последнего шарда, чтобы избежать его перегрузки
		now := time.Now().UnixNano()
		return int(now % int64(h.shardCount))
	}

	// Используем хеш-функцию для равномерного распределения
	hasher := fnv.New32a()
	hasher.Write([]byte(userID))
	return int(hasher.Sum32() % uint32(h.shardCount))
}

// getShard возвращает шард для указанного userID
func (h *ShardedHub) getShard(userID string) *Shard {
	shardID := h.getShardID(userID)
	return h.shards[shardID]
}

// RegisterClient регистрирует клиента в соответствующем шарде
func (h *ShardedHub) RegisterClient(client *Client) {
	shard := h.getShard(client.UserID)
	shard.register <- client
}

// RegisterSync регистрирует клиента и ожидает завершения регистрации
func (h *ShardedHub) RegisterSync(client *Client, done chan struct{}) {
	// Добавляем канал обратного вызова в клиента
	client.registrationComplete = done

	shard := h.getShard(client.UserID)
	shard.register <- client
}

// UnregisterClient отменяет регистрацию клиента
func (h *ShardedHub) UnregisterClient(client *Client) {
	shard := h.getShard(client.UserID)
	shard.unregister <- client
}

// Broadcast отправляет сообщение всем клиентам
func (h *ShardedHub) Broadcast(message []byte) {
	h.BroadcastBytes(message)
}

// BroadcastBytes отправляет байтовое сообщение всем клиентам.
// Локальная доставка выполняется немедленной постановкой в каналы шардов,
// копия сообщения ставится в очередь публикации в кластер.
func (h *ShardedHub) BroadcastBytes(message []byte) {
	h.metrics.IncrementMessageTypeCount(messageTypeFromBytes(message))

	h.BroadcastBytesLocal(message)

	// Копию отправляем другим узлам кластера. Очередь разгружается
	// единственной горутиной, порядок публикаций сохраняется.
	if h.cluster != nil && h.cluster.config.Enabled {
		select {
		case h.clusterOut <- message:
		default:
			log.Printf("[ShardedHub] Очередь публикаций в кластер переполнена, сообщение не реплицировано")
			h.SendAlert(AlertMessageLoss, AlertWarning,
				"Очередь публикаций в кластер переполнена",
				map[string]interface{}{
					"queue_capacity": cap(h.clusterOut),
					"component":      "BroadcastBytes",
				})
		}
	}
}

// BroadcastBytesLocal отправляет байтовое сообщение всем локальным шардам.
// Постановка в канал каждого шарда выполняется синхронно: это дешевая
// операция, сохраняющая порядок сообщений для каждого подписчика.
func (h *ShardedHub) BroadcastBytesLocal(message []byte) {
	for _, shard := range h.shards {
		select {
		case shard.broadcast <- message:
		default:
			// Канал шарда переполнен, сообщение для его клиентов потеряно
			errMsg := fmt.Sprintf("Канал рассылки шарда %d переполнен, сообщение потеряно", shard.id)
			log.Println("[ShardedHub]", errMsg)
			h.SendAlert(AlertBufferOverflow, AlertCritical, errMsg,
				map[string]interface{}{
					"shard_id":       shard.id,
					"queue_capacity": cap(shard.broadcast),
					"component":      "BroadcastBytesLocal",
				})
		}
	}
}

// BroadcastJSON сериализует объект в JSON и отправляет его всем клиентам.
func (h *ShardedHub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.BroadcastBytes(data)
	return nil
}

// SendToUser отправляет сообщение конкретному пользователю
func (h *ShardedHub) SendToUser(userID string, message []byte) bool {
	shard := h.getShard(userID)
	result := shard.SendToUser(userID, message)

	// Если пользователь не найден в локальном экземпляре,
	// пробуем отправить через кластер
	if !result && h.cluster != nil {
		go func() {
			if err := h.cluster.SendToUserInCluster(userID, message); err != nil {
				log.Printf("ShardedHub: ошибка отправки сообщения пользователю %s через кластер: %v",
					userID, err)
			}
		}()
	}

	return result
}

// SendJSONToUser отправляет JSON структуру конкретному пользователю
func (h *ShardedHub) SendJSONToUser(userID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.SendToUser(userID, data)
	return nil
}

// ClientCount возвращает общее количество подключенных клиентов
func (h *ShardedHub) ClientCount() int {
	var count int
	for _, shard := range h.shards {
		count += shard.GetClientCount()
	}
	return count
}

// GetMetrics возвращает основные метрики хаба
func (h *ShardedHub) GetMetrics() map[string]interface{} {
	return h.metrics.GetBasicMetrics()
}

// GetDetailedMetrics возвращает расширенные метрики хаба, включая шарды и пиры кластера
func (h *ShardedHub) GetDetailedMetrics() map[string]interface{} {
	allMetrics := h.metrics.GetAllMetrics()

	// Добавляем метрики шардов
	shardMetrics := make([]map[string]interface{}, h.shardCount)
	for i, shard := range h.shards {
		shardMetrics[i] = shard.GetMetrics()
	}
	allMetrics["shards"] = shardMetrics

	// Добавляем информацию о пирах кластера
	peerMetrics := make(map[string]interface{})
	h.clusterPeers.Range(func(key, value interface{}) bool {
		instanceID := key.(string)
		peerMetrics[instanceID] = value
		return true
	})
	allMetrics["cluster_peers"] = peerMetrics

	return allMetrics
}

// runClusterPublisher последовательно публикует исходящие сообщения в кластер
func (h *ShardedHub) runClusterPublisher() {
	for {
		select {
		case message := <-h.clusterOut:
			if err := h.cluster.BroadcastToCluster(message); err != nil {
				log.Printf("[ShardedHub] Ошибка отправки broadcast сообщения в кластер: %v", err)
			}
		case <-h.done:
			return
		}
	}
}

// runMetricsCollector периодически собирает метрики со всех шардов
func (h *ShardedHub) runMetricsCollector() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.collectMetrics()
		case <-h.done:
			return
		}
	}
}

// collectMetrics собирает метрики со всех шардов и проверяет их нагрузку
func (h *ShardedHub) collectMetrics() {
	shardMetrics := make([]map[string]interface{}, h.shardCount)
	hotShards := make([]int, 0)
	totalConnections := int64(0)
	maxLoad := float64(0)
	maxLoadShardID := -1

	// Собираем метрики со всех шардов
	for i, shard := range h.shards {
		metrics := shard.GetMetrics()
		shardMetrics[i] = metrics

		if connections, ok := metrics["active_connections"].(int); ok {
			totalConnections += int64(connections)
		}

		// Проверяем нагрузку шарда
		if loadPercentage, ok := metrics["load_percentage"].(float64); ok {
			if loadPercentage > maxLoad {
				maxLoad = loadPercentage
				maxLoadShardID = i
			}

			// Определяем "горячие" шарды
			if loadPercentage > 75 {
				hotShards = append(hotShards, i)

				severity := AlertWarning
				if loadPercentage > 90 {
					severity = AlertCritical
				}

				h.SendAlert(AlertHotShard, severity,
					fmt.Sprintf("Обнаружен горячий шард %d с загрузкой %.2f%%", i, loadPercentage),
					map[string]interface{}{
						"shard_id":           i,
						"load_percentage":    loadPercentage,
						"active_connections": metrics["active_connections"],
						"max_clients":        metrics["max_clients"],
					})
			}
		}
	}

	// Обновляем метрики хаба
	h.metrics.SetActiveConnections(totalConnections)
	h.metrics.UpdateShardMetrics(shardMetrics)

	if len(hotShards) > 0 {
		log.Printf("ShardedHub: обнаружены горячие шарды: %v", hotShards)

		h.SendAlert(AlertHotShard, AlertWarning,
			fmt.Sprintf("Обнаружено %d горячих шардов, максимальная нагрузка %.2f%% (шард %d)",
				len(hotShards), maxLoad, maxLoadShardID),
			map[string]interface{}{
				"hot_shards":        hotShards,
				"max_load":          maxLoad,
				"max_load_shard":    maxLoadShardID,
				"total_connections": totalConnections,
			})
	}
}

// Close закрывает все шарды и освобождает ресурсы
func (h *ShardedHub) Close() {
	log.Println("ShardedHub: закрытие всех шардов")

	// Закрываем кластерный компонент
	if h.cluster != nil {
		h.cluster.Stop()
	}

	// Закрываем все шарды
	for _, shard := range h.shards {
		shard.Close()
	}

	// Сигнал для завершения фоновых горутин
	close(h.done)

	log.Println("ShardedHub: все ресурсы освобождены")
}

// handleAlerts обрабатывает алерты
func (h *ShardedHub) handleAlerts() {
	for {
		select {
		case alert := <-h.alertChan:
			h.alertMu.RLock()
			handler := h.alertHandler
			h.alertMu.RUnlock()

			if handler != nil {
				handler(alert)
			}
		case <-h.done:
			return
		}
	}
}

// GetInstanceID возвращает уникальный ID этого экземпляра хаба
func (h *ShardedHub) GetInstanceID() string {
	if h.cluster != nil && h.cluster.config.Enabled {
		return h.cluster.config.InstanceID
	}
	return "standalone_instance"
}

// AddClusterPeer добавляет или обновляет информацию о другом узле кластера
func (h *ShardedHub) AddClusterPeer(instanceID string, metricsData json.RawMessage) {
	var metrics map[string]interface{}
	if err := json.Unmarshal(metricsData, &metrics); err != nil {
		log.Printf("ShardedHub: Ошибка десериализации метрик от пира %s: %v", instanceID, err)
		return
	}
	// Добавляем временную метку получения метрик
	metrics["last_seen"] = time.Now().Format(time.RFC3339)
	h.clusterPeers.Store(instanceID, metrics)
	log.Printf("ShardedHub: Обновлены метрики для пира %s", instanceID)
}

// RemoveClusterPeer удаляет информацию об узле кластера
func (h *ShardedHub) RemoveClusterPeer(instanceID string) {
	if _, loaded := h.clusterPeers.LoadAndDelete(instanceID); loaded {
		log.Printf("ShardedHub: Удален пир %s из списка", instanceID)
	}
}

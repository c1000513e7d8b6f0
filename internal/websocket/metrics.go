package websocket

import (
	"sync"
	"time"
)

// HubMetrics представляет агрегированные метрики всего WebSocket-сервера
type HubMetrics struct {
	activeConnections int64     // Текущее количество активных подключений
	startTime         time.Time // Время запуска сервера

	// Счетчики разосланных событий по типам
	messageTypeCounts map[string]int64

	// Метрики шардирования
	shardMetrics      []map[string]interface{} // Метрики всех шардов
	shardDistribution map[int]int              // Распределение клиентов по шардам
	hotShards         []int                    // ID "горячих" шардов (с высокой нагрузкой)

	// Мьютекс для безопасного обновления метрик
	mu sync.RWMutex
}

// NewHubMetrics создает новый экземпляр метрик хаба
func NewHubMetrics() *HubMetrics {
	return &HubMetrics{
		startTime:         time.Now(),
		messageTypeCounts: make(map[string]int64),
		shardDistribution: make(map[int]int),
		hotShards:         make([]int, 0),
	}
}

// SetActiveConnections устанавливает текущее количество активных подключений
func (m *HubMetrics) SetActiveConnections(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConnections = count
}

// IncrementMessageTypeCount увеличивает счетчик событий определенного типа
func (m *HubMetrics) IncrementMessageTypeCount(messageType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageTypeCounts[messageType]++
}

// UpdateShardMetrics обновляет метрики всех шардов
func (m *HubMetrics) UpdateShardMetrics(metrics []map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shardMetrics = metrics

	// Обновляем распределение клиентов по шардам
	m.shardDistribution = make(map[int]int)
	m.hotShards = make([]int, 0)

	for _, shardMetric := range metrics {
		shardID, ok := shardMetric["shard_id"].(int)
		if !ok {
			continue
		}

		connections, ok := shardMetric["active_connections"].(int)
		if !ok {
			continue
		}

		m.shardDistribution[shardID] = connections

		// Определяем "горячие" шарды (> 75% загрузки)
		loadPercentage, ok := shardMetric["load_percentage"].(float64)
		if !ok {
			continue
		}

		if loadPercentage > 75 {
			m.hotShards = append(m.hotShards, shardID)
		}
	}
}

// GetAllMetrics возвращает все метрики в формате карты для JSON-ответа
func (m *HubMetrics) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime).Seconds()

	// Собираем счетчики по типам событий
	messageStats := make(map[string]int64)
	for messageType, count := range m.messageTypeCounts {
		messageStats[messageType] = count
	}

	return map[string]interface{}{
		"active_connections": m.activeConnections,
		"uptime_seconds":     uptime,
		"start_time":         m.startTime.Format(time.RFC3339),

		"event_type_stats":   messageStats,
		"shard_metrics":      m.shardMetrics,
		"shard_distribution": m.shardDistribution,
		"hot_shards":         m.hotShards,
		"shard_count":        len(m.shardMetrics),
		"avg_connections_per_shard": func() float64 {
			if len(m.shardMetrics) == 0 {
				return 0
			}
			return float64(m.activeConnections) / float64(len(m.shardMetrics))
		}(),
	}
}

// GetBasicMetrics возвращает базовые метрики для HTTP API
func (m *HubMetrics) GetBasicMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime).Seconds()

	messageStats := make(map[string]int64)
	for messageType, count := range m.messageTypeCounts {
		messageStats[messageType] = count
	}

	return map[string]interface{}{
		"active_connections": m.activeConnections,
		"uptime_seconds":     uptime,
		"event_type_stats":   messageStats,
	}
}

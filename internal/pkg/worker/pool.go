package worker

import (
	"log"
	"sync"
	"sync/atomic"
)

// Pool представляет пул воркеров для фоновых задач.
// Используется для побочных эффектов мутаций (проверка значков,
// уведомления): задачи не зависят друг от друга по порядку,
// а отказ любой из них не влияет на основную операцию.
type Pool struct {
	tasks        chan func()
	workerCount  int
	wg           sync.WaitGroup
	shuttingDown int32 // атомарный флаг для отслеживания состояния завершения
}

// NewPool создает новый пул воркеров с указанным количеством
func NewPool(workerCount int) *Pool {
	// Минимальное количество воркеров
	if workerCount < 1 {
		workerCount = 1
	}

	// Размер буфера задач - в 10 раз больше количества воркеров
	// для обеспечения непрерывной обработки
	pool := &Pool{
		tasks:       make(chan func(), workerCount*10),
		workerCount: workerCount,
	}

	pool.start()
	return pool
}

// start запускает всех воркеров в пуле
func (p *Pool) start() {
	atomic.StoreInt32(&p.shuttingDown, 0)

	p.wg.Add(p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}

	log.Printf("WorkerPool: запущен пул с %d воркерами", p.workerCount)
}

// worker запускает цикл обработки задач
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		// Проверяем, не завершается ли пул
		if atomic.LoadInt32(&p.shuttingDown) == 1 {
			log.Printf("WorkerPool: воркер %d завершает работу при закрытии пула", id)
			return
		}

		// Выполняем задачу с защитой от паники
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("WorkerPool: воркер %d восстановился после паники: %v", id, r)
				}
			}()

			task()
		}()
	}

	log.Printf("WorkerPool: воркер %d завершил работу", id)
}

// Submit добавляет задачу в пул на выполнение.
// Возвращает false, если пул завершается или буфер задач переполнен.
func (p *Pool) Submit(task func()) bool {
	if atomic.LoadInt32(&p.shuttingDown) == 1 {
		return false
	}

	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop останавливает все воркеры и ожидает их завершения
func (p *Pool) Stop() {
	atomic.StoreInt32(&p.shuttingDown, 1)
	close(p.tasks)
	p.wg.Wait()
	log.Printf("WorkerPool: пул остановлен, все воркеры завершили работу")
}

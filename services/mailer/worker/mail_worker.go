package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"mailgate/services/mailer/usecase"
	"mailgate/shared/logger"
	"mailgate/shared/redis"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// TaskType represents the type of mail task
type TaskType string

const (
	TaskTypeSendBatch  TaskType = "send_batch"  // Deliver queued NEW messages
	TaskTypeRetryBatch TaskType = "retry_batch" // Replay failed messages
	TaskTypeCleanup    TaskType = "cleanup"     // Remove expired messages
)

// MailTask represents one unit of background work for a tenant
type MailTask struct {
	ID        string    `json:"id"`
	Type      TaskType  `json:"type"`
	TenantID  uint      `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	WorkerID          string        `json:"worker_id"`
	ConcurrentWorkers int           `json:"concurrent_workers"`
	TaskChannelSize   int           `json:"task_channel_size"`
	QueueName         string        `json:"queue_name"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
}

// DefaultWorkerConfig returns default worker configuration
func DefaultWorkerConfig() *WorkerConfig {
	hostname, _ := os.Hostname()
	return &WorkerConfig{
		WorkerID:          fmt.Sprintf("mail-worker-%s-%d", hostname, time.Now().Unix()),
		ConcurrentWorkers: 2,
		TaskChannelSize:   256,
		QueueName:         "mailer:tasks",
		ProcessingTimeout: 60 * time.Second,
	}
}

// Worker consumes mail tasks from the Redis queue and runs the batch
// delivery pipelines. Trigger endpoints enqueue tasks; the worker is the only
// consumer.
type Worker struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	mailUC      usecase.MailUsecase
	redisClient *redis.Client
	taskChan    chan *MailTask
	wg          sync.WaitGroup
	config      *WorkerConfig
	isRunning   bool
	mu          sync.RWMutex
}

// NewMailWorker creates a new mail worker
func NewMailWorker(mailUC usecase.MailUsecase, redisClient *redis.Client, config *WorkerConfig) *Worker {
	if config == nil {
		config = DefaultWorkerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		id:          config.WorkerID,
		ctx:         ctx,
		cancel:      cancel,
		mailUC:      mailUC,
		redisClient: redisClient,
		taskChan:    make(chan *MailTask, config.TaskChannelSize),
		config:      config,
	}
}

// Start starts the mail worker
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("worker is already running")
	}

	logger.WithField("worker_id", w.id).Info("Starting mail worker")

	for i := 0; i < w.config.ConcurrentWorkers; i++ {
		w.wg.Add(1)
		go w.taskProcessor(i + 1)
	}

	w.wg.Add(1)
	go w.queueConsumer()

	w.isRunning = true
	logger.WithField("worker_id", w.id).Info("Mail worker started successfully")
	return nil
}

// Stop stops the mail worker gracefully
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return nil
	}

	logger.WithField("worker_id", w.id).Info("Stopping mail worker")

	w.cancel()
	close(w.taskChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.WithField("worker_id", w.id).Info("All worker goroutines stopped")
	case <-time.After(30 * time.Second):
		logger.WithField("worker_id", w.id).Warn("Worker shutdown timeout exceeded")
	}

	w.isRunning = false
	logger.WithField("worker_id", w.id).Info("Mail worker stopped")
	return nil
}

// Enqueue adds a task to the Redis queue
func (w *Worker) Enqueue(task *MailTask) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	ctx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
	defer cancel()

	if err := w.redisClient.LPush(ctx, w.config.QueueName, taskData).Err(); err != nil {
		return fmt.Errorf("failed to add task to queue: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"task_id":   task.ID,
		"task_type": task.Type,
		"tenant_id": task.TenantID,
	}).Info("Task added to queue")

	return nil
}

// processTask runs one task against the mail usecase
func (w *Worker) processTask(ctx context.Context, task *MailTask) error {
	switch task.Type {
	case TaskTypeSendBatch:
		count, err := w.mailUC.SendUnsentBatch(ctx, task.TenantID)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"task_id":   task.ID,
			"tenant_id": task.TenantID,
			"processed": count,
		}).Info("Send batch processed")
		return nil

	case TaskTypeRetryBatch:
		count, err := w.mailUC.RunRetryBatch(ctx, task.TenantID)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"task_id":   task.ID,
			"tenant_id": task.TenantID,
			"processed": count,
		}).Info("Retry batch processed")
		return nil

	case TaskTypeCleanup:
		count, err := w.mailUC.DeleteExpired(task.TenantID, nil, nil)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"task_id":   task.ID,
			"tenant_id": task.TenantID,
			"deleted":   count,
		}).Info("Cleanup processed")
		return nil

	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// taskProcessor processes tasks from the task channel
func (w *Worker) taskProcessor(workerNum int) {
	defer w.wg.Done()

	logger.WithFields(map[string]interface{}{
		"worker_id":  w.id,
		"worker_num": workerNum,
	}).Info("Task processor started")

	for {
		select {
		case task, ok := <-w.taskChan:
			if !ok {
				return
			}
			w.processTaskWithTimeout(task)

		case <-w.ctx.Done():
			return
		}
	}
}

// processTaskWithTimeout processes a task with timeout
func (w *Worker) processTaskWithTimeout(task *MailTask) {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.ProcessingTimeout)
	defer cancel()

	startTime := time.Now()
	err := w.processTask(ctx, task)
	duration := time.Since(startTime)

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"task_id":     task.ID,
			"task_type":   task.Type,
			"tenant_id":   task.TenantID,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		}).Error("Failed to process mail task")
		return
	}

	logger.WithFields(map[string]interface{}{
		"task_id":     task.ID,
		"task_type":   task.Type,
		"tenant_id":   task.TenantID,
		"duration_ms": duration.Milliseconds(),
	}).Info("Mail task completed")
}

// queueConsumer consumes tasks from the Redis queue
func (w *Worker) queueConsumer() {
	defer w.wg.Done()

	logger.WithField("worker_id", w.id).Info("Queue consumer started")

	for {
		select {
		case <-w.ctx.Done():
			return

		default:
			task := w.consumeFromQueue()
			if task == nil {
				continue
			}

			select {
			case w.taskChan <- task:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

// consumeFromQueue pops one task from the Redis queue
func (w *Worker) consumeFromQueue() *MailTask {
	ctx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
	defer cancel()

	result, err := w.redisClient.BRPop(ctx, 1*time.Second, w.config.QueueName).Result()
	if err != nil {
		if err != goredis.Nil && w.ctx.Err() == nil {
			logger.WithFields(map[string]interface{}{
				"queue": w.config.QueueName,
				"error": err.Error(),
			}).Error("Failed to consume from queue")
		}
		return nil
	}

	if len(result) < 2 {
		return nil
	}

	var task MailTask
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		logger.WithFields(map[string]interface{}{
			"queue": w.config.QueueName,
			"error": err.Error(),
			"data":  result[1],
		}).Error("Failed to unmarshal task")
		return nil
	}

	return &task
}

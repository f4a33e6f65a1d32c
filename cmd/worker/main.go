package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athebyme/catalog-sync/config"
	"github.com/athebyme/catalog-sync/internal/adapters/cache"
	"github.com/athebyme/catalog-sync/internal/adapters/logger"
	"github.com/athebyme/catalog-sync/internal/adapters/messaging"
	"github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/internal/domain/services"
	"github.com/athebyme/catalog-sync/internal/platform"
	"github.com/athebyme/catalog-sync/internal/utils"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/athebyme/catalog-sync/pkg/tx"
)

// Метрики для Prometheus
var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_processed_total",
		Help: "Общее количество обработанных уведомлений",
	}, []string{"topic", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_message_processing_duration_seconds",
		Help:    "Длительность обработки уведомлений",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_goroutines",
		Help: "Количество активных горутин-обработчиков",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})

			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	connectionStr, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	repo, err := storage.NewPostgresStorage(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer repo.Close()
	log.Info("Хранилище инициализировано")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.DeadLetterTopic,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	txManager := tx.NewManager(repo.Pool())

	sourceAuth := platform.NewSourceAuth(cfg.Source.AuthURL, cfg.Source.Timeout)
	targetAuth := platform.NewTargetAuth(cfg.Target.TokenURL, cfg.Target.DeviceAuthURL, cfg.Target.ClientID)
	tokenManager := services.NewTokenManager(repo, sourceAuth, targetAuth, log)

	sourceClient := platform.NewSourceClient(cfg.Source.BaseURL, cfg.Source.Timeout, tokenManager)
	targetClient := platform.NewTargetClient(cfg.Target.BaseURL, cfg.Target.Timeout, tokenManager)

	correlations := services.NewCorrelationService(repo, cacheClient, txManager, log)
	converter := services.NewConverter(correlations, sourceClient, cfg.Source.MaxParallel)
	dispatcher := services.NewDispatcher(
		repo, correlations, converter, sourceClient, targetClient, cacheClient, log,
		cfg.Redis.LockTTL, cfg.Resilience.MaxRetries, cfg.Resilience.RetryWaitTime,
	)
	log.Info("Диспетчер уведомлений инициализирован")

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	subscribeToNotifications(ctx, messagingClient, dispatcher, cfg.Kafka.NotificationTopic, cfg.Resilience.MaxRetries, log, &wg)

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
		cancel()
		wg.Wait()
		close(done)
	}()

	log.Info("Воркер запущен и готов к обработке уведомлений")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// notificationDispatcher — срез диспетчера, нужный обработчику сообщений
type notificationDispatcher interface {
	Dispatch(ctx context.Context, notification *models.ChangeNotification) *services.DispatchResult
}

// deadLetterPublisher публикует неразрешимые сообщения в dead-letter тему
type deadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, original *interfaces.Message, reason string) error
}

// notificationHandler строит обработчик уведомлений из темы Kafka.
// Ошибка, которую повтор не вылечит, уводит сообщение в dead-letter тему;
// повторяемая ошибка возвращается консьюмеру для повторной доставки,
// пока не исчерпан лимит попыток — после этого сообщение тоже уходит
// в dead-letter тему
func notificationHandler(
	dispatcher notificationDispatcher,
	deadLetters deadLetterPublisher,
	maxRetries int,
	log interfaces.LoggerPort,
) interfaces.MessageHandler {
	return func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()
		defer func() {
			messageProcessingDuration.WithLabelValues(msg.Topic).Observe(time.Since(startTime).Seconds())
		}()

		var notification models.ChangeNotification
		if err := json.Unmarshal(msg.Value, &notification); err != nil {
			log.ErrorWithContext(ctx, "Ошибка декодирования уведомления",
				interfaces.LogField{Key: "message_id", Value: msg.ID},
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(msg.Topic, "malformed").Inc()
			return deadLetters.PublishDeadLetter(ctx, msg, "malformed payload")
		}

		result := dispatcher.Dispatch(ctx, &notification)

		if result.Status == services.StatusAcknowledged {
			messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()
			return nil
		}

		if result.Retryable && msg.Attempts < maxRetries {
			messagesProcessed.WithLabelValues(msg.Topic, "retry").Inc()
			return fmt.Errorf("обработка уведомления не удалась (этап %s): %s", result.Step, result.Message)
		}

		log.ErrorWithContext(ctx, "Уведомление отправлено в dead-letter тему",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "scope", Value: string(notification.Scope)},
			interfaces.LogField{Key: "scope_id", Value: notification.ScopeID},
			interfaces.LogField{Key: "category", Value: result.Category},
		)
		messagesProcessed.WithLabelValues(msg.Topic, "dead_letter").Inc()
		return deadLetters.PublishDeadLetter(ctx, msg, result.Category)
	}
}

// subscribeToNotifications подписывает диспетчер на тему уведомлений
func subscribeToNotifications(
	ctx context.Context,
	messagingClient *messaging.KafkaMessaging,
	dispatcher *services.Dispatcher,
	topic string,
	maxRetries int,
	log interfaces.LoggerPort,
	wg *sync.WaitGroup,
) {
	unsubscribe, err := messagingClient.Subscribe(ctx, topic, notificationHandler(dispatcher, messagingClient, maxRetries, log))
	if err != nil {
		log.Fatal("Ошибка подписки на тему уведомлений",
			interfaces.LogField{Key: "topic", Value: topic},
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := unsubscribe(); err != nil {
			log.Error("Ошибка отписки от темы уведомлений",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	log.Info("Подписка на тему уведомлений оформлена",
		interfaces.LogField{Key: "topic", Value: topic})
}

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"storybook-server/internal/models"
)

// ProgressPublisher defines the interface for publishing story generation
// updates towards the client transport.
type ProgressPublisher interface {
	PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error
}

// rabbitMQPublisher implements ProgressPublisher for RabbitMQ.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
}

// NewRabbitMQProgressPublisher creates a new instance of ProgressPublisher.
func NewRabbitMQProgressPublisher(conn *amqp.Connection, queueName string) (ProgressPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("progress publisher: не удалось открыть канал: %w", err)
	}
	// Объявляем очередь здесь
	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("progress publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log.Printf("ProgressPublisher: очередь '%s' успешно объявлена/найдена", queueName)
	return &rabbitMQPublisher{channel: ch, queueName: queueName}, nil
}

// PublishClientUpdate publishes an update to the client.
func (p *rabbitMQPublisher) PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Publisher: Ошибка маршалинга ClientStoryUpdate: %v", err)
		return fmt.Errorf("ошибка подготовки сообщения ClientStoryUpdate: %w", err)
	}
	// Используем exchange по умолчанию и routing key = имя очереди
	return p.publishMessage(ctx, body)
}

// publishMessage is a helper method for publishing a message.
func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		log.Println("Ошибка публикации: канал RabbitMQ не инициализирован (nil)")
		return errors.New("канал RabbitMQ не инициализирован")
	}
	// Таймаут на публикацию
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (используем default)
			p.queueName, // routing key (имя очереди)
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "storybook-server",
			},
		)
		if err == nil {
			break
		}
		log.Printf("Ошибка публикации (attempt %d) в очередь '%s': %v", attempt, p.queueName, err)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
	}
	return nil
}

// NoopProgressPublisher отбрасывает обновления; используется, когда
// транспорт обновлений не сконфигурирован.
type NoopProgressPublisher struct{}

var _ ProgressPublisher = (*NoopProgressPublisher)(nil)

func (NoopProgressPublisher) PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error {
	return nil
}

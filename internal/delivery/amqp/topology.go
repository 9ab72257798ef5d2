package amqp

import (
	"fmt"

	amqplib "github.com/rabbitmq/amqp091-go"
)

const (
	// QueueName is the durable queue judge and execute jobs are consumed from.
	QueueName = "sentinel.judge_requests"

	dlxName  = "sentinel.dlx"
	dlqName  = "sentinel.judge_requests.dlq"
	dlqRoute = "judge_requests.dlq"
)

// declareTopology declares the job queue and its dead letter route. All
// declarations are idempotent.
func declareTopology(ch *amqplib.Channel) error {
	if err := ch.ExchangeDeclare(dlxName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqName, dlqRoute, dlxName, false, nil); err != nil {
		return fmt.Errorf("amqp bind DLQ: %w", err)
	}

	_, err := ch.QueueDeclare(
		QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    dlxName,
			"x-dead-letter-routing-key": dlqRoute,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	return nil
}

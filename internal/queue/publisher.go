package queue

import (
    "context"
    "encoding/json"
    "log/slog"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/samber/oops"

    "github.com/iliyamo/phone-signin/internal/model"
)

// Publisher sends login events to the auth.login queue. It dials per publish
// so a broker outage never blocks startup; callers treat errors as
// non-fatal.
type Publisher struct {
    url     string
    timeout time.Duration
    log     *slog.Logger
}

func NewPublisher(url string, log *slog.Logger) *Publisher {
    if log == nil {
        log = slog.Default()
    }
    return &Publisher{url: url, timeout: 3 * time.Second, log: log}
}

// PublishLogin publishes ev as a persistent JSON message.
func (p *Publisher) PublishLogin(ctx context.Context, ev model.LoginEvent) error {
    body, err := json.Marshal(NewLoginEvent(ev))
    if err != nil {
        return oops.Code("AMQP_ENCODE").Wrap(err)
    }

    ctx, cancel := context.WithTimeout(ctx, p.timeout)
    defer cancel()

    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(p.timeout)})
    if err != nil {
        return oops.Code("AMQP_DIAL").Wrap(err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return oops.Code("AMQP_CHANNEL").Wrap(err)
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(
        LoginQueueName, // name
        true,           // durable
        false,          // autoDelete
        false,          // exclusive
        false,          // noWait
        nil,            // args
    ); err != nil {
        return oops.Code("AMQP_DECLARE").Wrap(err)
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        MessageId:    ev.ID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx,
        "",             // default exchange
        LoginQueueName, // routing key = queue name
        false,          // mandatory
        false,          // immediate
        pub,
    ); err != nil {
        return oops.Code("AMQP_PUBLISH").Wrap(err)
    }
    p.log.Debug("queue.login.published", "event_id", ev.ID)
    return nil
}

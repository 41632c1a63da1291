// Package queue carries reservation lifecycle events over RabbitMQ. The
// Publisher sends them to a durable queue and the audit consumer appends
// each one to logs/reservation.log.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/hotel-settlement/internal/model"
)

// EventsQueue is the durable queue lifecycle events are routed to.
const EventsQueue = "reservation.events"

const (
	publishBuffer  = 256
	dialTimeout    = 3 * time.Second
	publishTimeout = 5 * time.Second
	heartbeat      = 10 * time.Second
)

var (
	ErrPublisherClosed = errors.New("queue: publisher closed")
	ErrBufferFull      = errors.New("queue: publish buffer full")
)

// Publisher buffers events and sends them from a single worker, so a slow
// or unreachable broker never blocks the caller. The worker keeps one
// connection open and redials lazily after a failure.
type Publisher struct {
	url         string
	queue       string
	dialTimeout time.Duration

	events    chan model.ReservationEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// owned by the worker
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher starts the send worker. Close stops it.
func NewPublisher(url string) *Publisher {
	p := newPublisher(url, dialTimeout, publishBuffer)
	p.wg.Add(1)
	go p.run()
	return p
}

func newPublisher(url string, dial time.Duration, buffer int) *Publisher {
	return &Publisher{
		url:         url,
		queue:       EventsQueue,
		dialTimeout: dial,
		events:      make(chan model.ReservationEvent, buffer),
		done:        make(chan struct{}),
	}
}

// Publish queues ev for delivery and returns at once. A full buffer drops
// the event with ErrBufferFull.
func (p *Publisher) Publish(ctx context.Context, ev model.ReservationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the worker after it has tried to flush what is buffered.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	defer func() {
		if err := p.closeConn(); err != nil {
			log.Printf("rabbitmq: close: %v", err)
		}
	}()
	for {
		select {
		case ev := <-p.events:
			_ = p.send(ev)
		case <-p.done:
			p.flush()
			return
		}
	}
}

// flush sends what is left in the buffer; the first failure drops the rest.
func (p *Publisher) flush() {
	for {
		select {
		case ev := <-p.events:
			if err := p.send(ev); err != nil {
				if n := len(p.events); n > 0 {
					log.Printf("rabbitmq: dropping %d buffered events on shutdown", n)
				}
				return
			}
		default:
			return
		}
	}
}

func (p *Publisher) send(ev model.ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("rabbitmq: marshal %s: %v", ev.Type, err)
		return err
	}
	ch, err := p.channel()
	if err != nil {
		log.Printf("rabbitmq: %s for %d not sent: %v", ev.Type, ev.ReservationID, err)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         string(ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish %s failed: %v", ev.Type, err)
		_ = p.closeConn()
		return err
	}
	return nil
}

// channel returns the open channel or dials a new one. The dial deadline
// also covers the AMQP handshake, so a broker that accepts but never
// answers fails within dialTimeout.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	_ = p.closeConn()
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// Idempotent; durable so events survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) closeConn() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, ignoreClosed(p.ch.Close()))
		p.ch = nil
	}
	if p.conn != nil {
		errs = append(errs, ignoreClosed(p.conn.Close()))
		p.conn = nil
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

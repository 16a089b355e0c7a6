// Package messaging publishes finalized call records to an AMQP broker so
// downstream billing and reporting consumers see new records without polling
// the calls table.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"mediation-server/pkg/mediation"
	"mediation-server/pkg/metrics"
)

// CallRecordMessage is the JSON payload published for one finalized call.
type CallRecordMessage struct {
	CallID         string     `json:"call_id"`
	CFrom          string     `json:"c_from"`
	CTo            string     `json:"c_to,omitempty"`
	Status         string     `json:"status"`
	LastRC         int        `json:"rspcode"`
	Start          *time.Time `json:"t_start,omitempty"`
	Confirm        *time.Time `json:"t_confirm,omitempty"`
	End            *time.Time `json:"t_end,omitempty"`
	SetupSeconds   *int64     `json:"s_setup,omitempty"`
	ConnSeconds    *int64     `json:"s_connected,omitempty"`
	RoundedSeconds int64      `json:"s_connected_r"`
	TotalSeconds   *int64     `json:"s_total,omitempty"`
	ANum           string     `json:"anum,omitempty"`
	ANum2          string     `json:"anum2,omitempty"`
	BNum           string     `json:"bnum,omitempty"`
	BLRN           string     `json:"b_lrn,omitempty"`
	Jurisdiction   string     `json:"xstate,omitempty"`
	Price          float64    `json:"call_price"`
	RuleID         int64      `json:"ruleid"`
	PTGroup        int        `json:"ptgroup"`
	Timestamp      time.Time  `json:"timestamp"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	RoutingKey string
	Durable    bool
}

// AMQPClient handles the AMQP connection and call record publishing. An
// unconfigured client (empty URL) is valid and publishes nothing; broker
// delivery is an optional tap, never a mediation dependency.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}

	return &AMQPClient{
		logger: logger,
		config: config,
	}
}

// Enabled reports whether a broker is configured at all.
func (c *AMQPClient) Enabled() bool {
	return c.config.URL != "" && c.config.QueueName != ""
}

// Connect establishes the connection and declares the queue.
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if !c.Enabled() {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, AMQP functionality will be disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Dial: amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection(conn)

	return nil
}

// monitorConnection marks the client disconnected when the broker drops the
// connection; the next publish attempt reports the failure and the caller's
// next run reconnects.
func (c *AMQPClient) monitorConnection(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	if err := <-closed; err != nil {
		c.logger.WithError(err).Warn("AMQP connection closed by server")
	}

	c.connMutex.Lock()
	c.connected = false
	c.connMutex.Unlock()
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishCallRecord publishes the billable branch of a finalized call.
func (c *AMQPClient) PublishCallRecord(call *mediation.Call) error {
	cdr := call.FinalCdr
	if cdr == nil {
		return fmt.Errorf("call %s has no billable branch to publish", call.CallID)
	}

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected {
		metrics.PublishError()
		return fmt.Errorf("not connected to AMQP server")
	}

	msg := CallRecordMessage{
		CallID:         cdr.CallID,
		CFrom:          cdr.CFrom,
		CTo:            cdr.CTo,
		Status:         cdr.Status,
		LastRC:         cdr.LastRC,
		Start:          timePtr(cdr.Start),
		Confirm:        timePtr(cdr.Confirm),
		End:            timePtr(cdr.End),
		SetupSeconds:   cdr.SetupSeconds,
		ConnSeconds:    cdr.ConnectedSeconds,
		RoundedSeconds: cdr.RoundedSeconds,
		TotalSeconds:   cdr.TotalSeconds,
		ANum:           cdr.ANum,
		ANum2:          cdr.ANum2,
		BNum:           cdr.BNum,
		BLRN:           cdr.BLRN,
		Jurisdiction:   cdr.Jurisdiction,
		Price:          cdr.Price,
		RuleID:         cdr.RuleID,
		PTGroup:        cdr.PTGroup,
		Timestamp:      time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		metrics.PublishError()
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	if err := c.channel.Publish(
		"", // default exchange
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		metrics.PublishError()
		return fmt.Errorf("failed to publish call record: %w", err)
	}

	metrics.RecordPublished()
	c.logger.WithFields(logrus.Fields{
		"callid": cdr.CallID,
		"queue":  c.config.QueueName,
	}).Debug("Published call record")

	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

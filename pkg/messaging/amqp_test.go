package messaging

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"mediation-server/pkg/mediation"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestEnabled(t *testing.T) {
	c := NewAMQPClient(testLogger(), AMQPConfig{})
	require.False(t, c.Enabled())

	c = NewAMQPClient(testLogger(), AMQPConfig{URL: "amqp://localhost", QueueName: "cdr_records"})
	require.True(t, c.Enabled())
	require.Equal(t, "cdr_records", c.config.RoutingKey)
}

func TestConnectWithoutConfigFails(t *testing.T) {
	c := NewAMQPClient(testLogger(), AMQPConfig{})
	require.Error(t, c.Connect())
	require.False(t, c.IsConnected())
}

func TestPublishWhileDisconnectedFails(t *testing.T) {
	c := NewAMQPClient(testLogger(), AMQPConfig{URL: "amqp://localhost", QueueName: "q"})

	call := mediation.NewCall("abc@host")
	cdr := mediation.NewCdr("abc@host", "tag1", testLogger())
	call.AddCdr(cdr)
	call.Finalize()

	require.Error(t, c.PublishCallRecord(call))
}

func TestPublishRejectsCallWithoutBillableBranch(t *testing.T) {
	c := NewAMQPClient(testLogger(), AMQPConfig{URL: "amqp://localhost", QueueName: "q"})
	require.Error(t, c.PublishCallRecord(mediation.NewCall("abc@host")))
}

func TestCallRecordMessageShape(t *testing.T) {
	cdr := mediation.NewCdr("abc@host", "tag1", testLogger())
	cdr.CFrom = "a22"
	cdr.LastRC = 200
	cdr.Status = "OK"
	cdr.Price = 0.0002
	cdr.RuleID = 204012
	cdr.PTGroup = 9

	msg := CallRecordMessage{
		CallID:  cdr.CallID,
		CFrom:   cdr.CFrom,
		Status:  cdr.Status,
		LastRC:  cdr.LastRC,
		Price:   cdr.Price,
		RuleID:  cdr.RuleID,
		PTGroup: cdr.PTGroup,
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "abc@host", decoded["call_id"])
	require.Equal(t, "OK", decoded["status"])
	require.EqualValues(t, 200, decoded["rspcode"])
	require.EqualValues(t, 204012, decoded["ruleid"])

	// Empty optional fields are omitted entirely.
	require.NotContains(t, decoded, "t_start")
	require.NotContains(t, decoded, "c_to")
}

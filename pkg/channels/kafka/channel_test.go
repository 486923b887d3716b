package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/events"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, ParseBrokers("kafka-1:9092, kafka-2:9092,,"))
	assert.Empty(t, ParseBrokers(""))
}

func TestCreateChannel_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "no brokers", config: Config{ConsumerGroup: "bpmnvm"}},
		{name: "broker without port", config: Config{Brokers: []string{"kafka-1"}, ConsumerGroup: "bpmnvm"}},
		{name: "no consumer group", config: Config{Brokers: []string{"kafka-1:9092"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CreateChannel(watermill.NopLogger{}, tt.config)
			require.Error(t, err)

			var validationErrors validator.ValidationErrors
			assert.ErrorAs(t, err, &validationErrors)
		})
	}
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("msg-1", nil)
	msg.Metadata.Set(events.EventMetadataKey, "instance-1")

	key, err := partitionKey(events.Topic, msg)
	require.NoError(t, err)
	assert.Equal(t, "instance-1", key)
}

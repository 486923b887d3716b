// Package gochannel provides the in-process pub/sub used by single-node deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type Config struct {
	// Buffer is the number of history events queued per subscriber.
	Buffer int64

	// Replay keeps every published event and hands it to subscribers that arrive later.
	Replay bool
}

func DefaultConfig() Config {
	return Config{Buffer: 1000}
}

// CreateChannel returns one GoChannel serving as both publisher and subscriber. Without Replay,
// history published while nobody is subscribed is dropped.
func CreateChannel(logger watermill.LoggerAdapter, config Config) (*gochannel.GoChannel, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            config.Buffer,
			Persistent:                     config.Replay,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return pubSub, pubSub
}

package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// NewMessagePublisher returns a Redis stream publisher when redisURL is set
// and an in-process channel otherwise. The returned close func releases
// everything that was opened.
func NewMessagePublisher(redisURL string, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if redisURL == "" {
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return pubSub, pubSub.Close, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create redis publisher: %w", err)
	}

	closeFn := func() error {
		perr := publisher.Close()
		cerr := client.Close()
		if perr != nil {
			return perr
		}
		return cerr
	}
	return publisher, closeFn, nil
}

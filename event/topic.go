package event

import "time"

// Subscriber receives the payload published on a topic.
type Subscriber func(payload any)

// Topic is the subscriber list of a single topic.
type Topic struct {
	timeout     time.Duration // how long Publish waits for subscribers; zero waits forever
	subscribers []Subscriber
}

// Package event is a small topic/subscriber publisher. Lifecycle objects use
// it to deliver opening/opened/closing/closed/faulted notifications.
package event

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linchenxuan/conduit/log"
)

var (
	ErrTopicExists    = errors.New("event: topic already created")
	ErrTopicNotFound  = errors.New("event: topic not created")
	ErrPublishTimeout = errors.New("event: subscribers did not finish in time")
)

// Publisher includes multiple topics.
type Publisher struct {
	lock   sync.RWMutex
	topics map[string]*Topic
}

// NewPublisher returns an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{topics: make(map[string]*Topic)}
}

// NewTopic must create a topic before you can initiate a subscription.
func (p *Publisher) NewTopic(topicName string, timeout time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.topics[topicName]; ok {
		return fmt.Errorf("%w: %s", ErrTopicExists, topicName)
	}
	p.topics[topicName] = &Topic{timeout: timeout}
	return nil
}

// RegisterSubscriber registers a subscriber.
func (p *Publisher) RegisterSubscriber(topicName string, fn Subscriber) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	topic, ok := p.topics[topicName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topicName)
	}
	topic.subscribers = append(topic.subscribers, fn)
	return nil
}

// Subscribers returns the number of subscribers on a topic.
func (p *Publisher) Subscribers(topicName string) int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if topic, ok := p.topics[topicName]; ok {
		return len(topic.subscribers)
	}
	return 0
}

// Publish delivers payload to every subscriber concurrently and waits for
// them, up to the topic timeout. A panicking subscriber is logged and does
// not affect the others.
func (p *Publisher) Publish(topicName string, payload any) error {
	p.lock.RLock()
	topic, ok := p.topics[topicName]
	var subs []Subscriber
	var timeout time.Duration
	if ok {
		subs = append(subs, topic.subscribers...)
		timeout = topic.timeout
	}
	p.lock.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topicName)
	}
	if len(subs) == 0 {
		return nil
	}

	log.Debug().Str("topic", topicName).Int("subscribers", len(subs)).Msg("publish event")

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("topic", topicName).Interface("panic", r).Msg("subscriber panic")
				}
			}()
			sub(payload)
		}()
	}

	if timeout <= 0 {
		wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		log.Warn().Str("topic", topicName).Dur("timeout", timeout).Msg("publish event timeout")
		return fmt.Errorf("%w: %s after %s", ErrPublishTimeout, topicName, timeout)
	}
}

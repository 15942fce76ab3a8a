package cache

import (
	"sync"
	"time"

	"github.com/marketcalls/openalgo-stream/internal/model"
)

// Entry is one cached market-data payload.
type Entry struct {
	Key        model.SubscriptionKey
	Topic      string // server-supplied alias topic, may be empty
	Tick       model.Tick
	ReceivedAt time.Time
}

// Cache maps subscription keys to their latest payload. Payloads are
// also reachable by the server-supplied topic string for consumers that
// key by topic rather than (symbol, exchange, mode). Last-value-wins;
// no history is retained.
type Cache struct {
	mu      sync.RWMutex
	byKey   map[model.SubscriptionKey]*Entry
	byTopic map[string]*Entry
	topicOf map[model.SubscriptionKey]string
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		byKey:   make(map[model.SubscriptionKey]*Entry),
		byTopic: make(map[string]*Entry),
		topicOf: make(map[model.SubscriptionKey]string),
	}
}

// Put overwrites the entry for e.Key, and indexes it under e.Topic when
// the payload declares one. A changed topic replaces the old alias.
func (c *Cache) Put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := e
	c.byKey[e.Key] = &stored

	old, hadOld := c.topicOf[e.Key]
	if hadOld && old != e.Topic {
		delete(c.byTopic, old)
	}
	if e.Topic != "" {
		c.byTopic[e.Topic] = &stored
		c.topicOf[e.Key] = e.Topic
	} else if hadOld {
		delete(c.topicOf, e.Key)
	}
}

// Get returns the latest entry for key, if any.
func (c *Cache) Get(key model.SubscriptionKey) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GetByTopic returns the latest entry under a server topic alias.
func (c *Cache) GetByTopic(topic string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byTopic[topic]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes the entry for key, including its topic alias.
func (c *Cache) Remove(key model.SubscriptionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byKey, key)
	if topic, ok := c.topicOf[key]; ok {
		delete(c.byTopic, topic)
		delete(c.topicOf, key)
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byKey = make(map[model.SubscriptionKey]*Entry)
	c.byTopic = make(map[string]*Entry)
	c.topicOf = make(map[model.SubscriptionKey]string)
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

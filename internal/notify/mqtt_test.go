package notify

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heif-player/internal/config"
)

type message struct {
	topic string
	event Event
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{topic: topic, event: e})
	return nil
}

func TestObserver_PublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	o := NewObserver(pub, "heif/player", "abc")
	clock := time.Unix(100, 0)
	o.now = func() time.Time { return clock }

	o.Ready()
	o.SetCurrentFrame(1, 10)
	o.SetCurrentFrame(2, 10) // 节流
	clock = clock.Add(150 * time.Millisecond)
	o.SetCurrentFrame(3, 10)
	o.Pause()

	require.Len(t, pub.messages, 4)
	for _, m := range pub.messages {
		assert.Equal(t, "heif/player/abc", m.topic)
		assert.Equal(t, "abc", m.event.Session)
	}
	assert.Equal(t, "ready", pub.messages[0].event.Type)
	assert.Equal(t, Event{Session: "abc", Type: "frame", Index: 1, Total: 10, Time: 100000}, pub.messages[1].event)
	assert.Equal(t, 3, pub.messages[2].event.Index)
	assert.Equal(t, "paused", pub.messages[3].event.Type)
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(config.MQTTConfig{})
	require.Error(t, err)
}

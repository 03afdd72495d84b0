// Package notify 通过 MQTT 发布播放状态
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"heif-player/internal/config"
	"heif-player/internal/logging"
)

// Event 发布的播放事件
type Event struct {
	Session string `json:"session"`
	Type    string `json:"type"` // ready / frame / paused / closed
	Index   int    `json:"index,omitempty"`
	Total   int    `json:"total,omitempty"`
	Time    int64  `json:"time"`
}

// Publisher 抽象 MQTT 发布，便于测试
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// clientPublisher 基于 paho 客户端
type clientPublisher struct {
	client mqtt.Client
}

func (p *clientPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	// 不阻塞播放定时器，错误异步记录
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logging.Component("mqtt").Warn("发布失败", "topic", topic, "error", token.Error())
		}
	}()
	return nil
}

// Broker 已连接的 MQTT 客户端
type Broker struct {
	client mqtt.Client
	topic  string
}

// Connect 连接 broker
func Connect(cfg config.MQTTConfig) (*Broker, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("mqtt: no broker url")
	}
	mqtt.ERROR = log.New(os.Stderr, "[mqtt] ", 0)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "heif-player"
	}
	topic := cfg.Topic
	if topic == "" {
		topic = config.DefaultMQTTTopic
	}

	options := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			logging.Component("mqtt").Info("已连接", "broker", cfg.URL)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logging.Component("mqtt").Warn("连接断开", "broker", cfg.URL, "error", err)
		})
	client := mqtt.NewClient(options)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.URL, token.Error())
	}
	return &Broker{client: client, topic: topic}, nil
}

// Observer 为一个会话创建观察者
func (b *Broker) Observer(session string) *Observer {
	return NewObserver(&clientPublisher{client: b.client}, b.topic, session)
}

// Close 断开连接
func (b *Broker) Close() {
	b.client.Disconnect(250)
}

// Observer 把播放状态发布到 <topic>/<session>
// 帧事件按 minInterval 节流，暂停/就绪事件总是发布
type Observer struct {
	pub         Publisher
	topic       string
	session     string
	minInterval time.Duration

	mu        sync.Mutex
	lastFrame time.Time
	now       func() time.Time
}

// NewObserver 创建观察者
func NewObserver(pub Publisher, topic, session string) *Observer {
	return &Observer{
		pub:         pub,
		topic:       topic + "/" + session,
		session:     session,
		minInterval: 100 * time.Millisecond,
		now:         time.Now,
	}
}

// SetCurrentFrame 当前帧变化
func (o *Observer) SetCurrentFrame(index, total int) {
	o.mu.Lock()
	now := o.now()
	if !o.lastFrame.IsZero() && now.Sub(o.lastFrame) < o.minInterval {
		o.mu.Unlock()
		return
	}
	o.lastFrame = now
	o.mu.Unlock()

	o.publish(Event{Type: "frame", Index: index, Total: total})
}

// Pause 播放停止
func (o *Observer) Pause() {
	o.publish(Event{Type: "paused"})
}

// Ready 第一批帧就绪
func (o *Observer) Ready() {
	o.publish(Event{Type: "ready"})
}

// Closed 会话结束
func (o *Observer) Closed() {
	o.publish(Event{Type: "closed"})
}

func (o *Observer) publish(e Event) {
	e.Session = o.session
	e.Time = o.now().UnixMilli()
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := o.pub.Publish(o.topic, payload); err != nil {
		logging.Component("mqtt").Warn("发布失败", "topic", o.topic, "error", err)
	}
}

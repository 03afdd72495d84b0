package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"

	"heif-player/internal/logging"
)

// EventsNamespace 事件通知命名空间
const EventsNamespace = "events"

// allSessions 订阅全部会话
const allSessions = "*"

// eventRequest 事件命名空间的请求体
type eventRequest struct {
	Session string `json:"session"`
	Index   int    `json:"index"`
}

// EventMessage 推送给订阅者的事件
type EventMessage struct {
	Session string      `json:"session"`
	Data    interface{} `json:"data,omitempty"`
}

// Events 基于 neffos 的事件通知，用于遥控已打开的播放会话
type Events struct {
	h *Handlers

	mu          sync.RWMutex
	subscribers map[string]map[*neffos.NSConn]struct{} // 会话 id (或 *) -> 连接
}

func newEvents(h *Handlers) *Events {
	return &Events{
		h:           h,
		subscribers: make(map[string]map[*neffos.NSConn]struct{}),
	}
}

// OnConnect 连接建立
func (e *Events) OnConnect(c *neffos.NSConn, msg neffos.Message) error {
	logging.LogDebug("事件客户端连接", "conn", c.Conn.ID())
	return nil
}

// OnDisconnect 连接断开，清理全部订阅
func (e *Events) OnDisconnect(c *neffos.NSConn, msg neffos.Message) error {
	logging.LogDebug("事件客户端断开", "conn", c.Conn.ID())
	e.mu.Lock()
	for id, conns := range e.subscribers {
		delete(conns, c)
		if len(conns) == 0 {
			delete(e.subscribers, id)
		}
	}
	e.mu.Unlock()
	return nil
}

// OnSubscribe 订阅会话事件，session 为空时订阅全部
func (e *Events) OnSubscribe(c *neffos.NSConn, msg neffos.Message) error {
	req, err := parseEventRequest(msg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	conns := e.subscribers[req.Session]
	if conns == nil {
		conns = make(map[*neffos.NSConn]struct{})
		e.subscribers[req.Session] = conns
	}
	conns[c] = struct{}{}
	e.mu.Unlock()

	c.Emit("subscribed", msg.Body)
	return nil
}

// OnUnsubscribe 取消订阅
func (e *Events) OnUnsubscribe(c *neffos.NSConn, msg neffos.Message) error {
	req, err := parseEventRequest(msg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if conns := e.subscribers[req.Session]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(e.subscribers, req.Session)
		}
	}
	e.mu.Unlock()
	return nil
}

// OnPlay 开始播放
func (e *Events) OnPlay(c *neffos.NSConn, msg neffos.Message) error {
	return e.control(c, msg, "play")
}

// OnPause 暂停播放
func (e *Events) OnPause(c *neffos.NSConn, msg neffos.Message) error {
	return e.control(c, msg, "pause")
}

// OnSeek 跳转
func (e *Events) OnSeek(c *neffos.NSConn, msg neffos.Message) error {
	return e.control(c, msg, "seek")
}

func (e *Events) control(c *neffos.NSConn, msg neffos.Message, action string) error {
	req, err := parseEventRequest(msg)
	if err != nil {
		return err
	}
	s := e.h.session(req.Session)
	if s == nil {
		return fmt.Errorf("session %q not found", req.Session)
	}
	if err := s.control(WSMessage{Action: action, Index: req.Index}); err != nil {
		return err
	}
	s.sendState(action)

	body, err := json.Marshal(s.Info())
	if err != nil {
		return err
	}
	c.Emit("state", body)
	return nil
}

// Publish 推送事件给订阅了该会话或全部会话的连接
func (e *Events) Publish(session, event string, data interface{}) {
	e.mu.RLock()
	targets := make([]*neffos.NSConn, 0, len(e.subscribers[session])+len(e.subscribers[allSessions]))
	for c := range e.subscribers[session] {
		targets = append(targets, c)
	}
	for c := range e.subscribers[allSessions] {
		targets = append(targets, c)
	}
	e.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(EventMessage{Session: session, Data: data})
	if err != nil {
		logging.LogWarn("事件编码失败", "event", event, "error", err)
		return
	}
	for _, c := range targets {
		c.Emit(event, body)
	}
}

// Namespaces 注册事件
func (e *Events) Namespaces() websocket.Namespaces {
	return websocket.Namespaces{
		EventsNamespace: websocket.Events{
			websocket.OnNamespaceConnected:  e.OnConnect,
			websocket.OnNamespaceDisconnect: e.OnDisconnect,
			"subscribe":                     e.OnSubscribe,
			"unsubscribe":                   e.OnUnsubscribe,
			"play":                          e.OnPlay,
			"pause":                         e.OnPause,
			"seek":                          e.OnSeek,
		},
	}
}

func parseEventRequest(msg neffos.Message) (eventRequest, error) {
	var req eventRequest
	if len(msg.Body) > 0 {
		if err := msg.Unmarshal(&req); err != nil {
			return req, err
		}
	}
	if req.Session == "" {
		req.Session = allSessions
	}
	return req, nil
}

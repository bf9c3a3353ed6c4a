package websocket

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 每个客户端的发送缓冲
const sendBufferSize = 256

// Client 代表一个实时连接，WebSocket或SSE
type Client struct {
	// 连接ID
	ID string

	// WebSocket连接，SSE客户端为nil
	conn *websocket.Conn

	// 消息发送通道，由Hub关闭
	send chan []byte

	// 所在分组，受Hub.mu保护
	groups map[string]struct{}

	closed bool
}

// NewClient 创建客户端，conn 可以为nil
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		groups: make(map[string]struct{}),
	}
}

// Send 待发送消息，Hub注销客户端后关闭
func (c *Client) Send() <-chan []byte {
	return c.send
}

package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler 消息处理函数类型
// 处理失败由上层自行记录日志，返回错误不会中断订阅
type MessageHandler func(topic string, payload []byte) error

// Options MQTT连接参数
type Options struct {
	Broker         string // 如 "tcp://10.0.0.5:1883"
	ClientID       string
	Username       string
	Password       string
	Keepalive      time.Duration
	ConnectTimeout time.Duration

	// 连接建立/丢失回调
	// 重连策略由端点状态机负责，paho 自动重连被禁用
	OnConnect        func()
	OnConnectionLost func(err error)
}

// Client MQTT客户端封装
type Client struct {
	client mqtt.Client
}

// NewClient 创建MQTT客户端（不建立连接，由调用方显式 Connect）
func NewClient(o *Options) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	if o.Keepalive > 0 {
		opts.SetKeepAlive(o.Keepalive)
	}
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}

	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	// 同一端点的消息按到达顺序串行处理
	opts.SetOrderMatters(true)

	if o.OnConnect != nil {
		onConnect := o.OnConnect
		opts.SetOnConnectHandler(func(_ mqtt.Client) {
			onConnect()
		})
	}
	if o.OnConnectionLost != nil {
		onLost := o.OnConnectionLost
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
	}

	return &Client{
		client: mqtt.NewClient(opts),
	}
}

// Connect 建立连接（阻塞直到成功或超时失败）
func (c *Client) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		_ = handler(msg.Topic(), msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Publish 发布消息
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

package mqtt

import (
	"fmt"

	"aibox-gateway/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// Conn 单个盒子的控制通道连接（测试中用假实现替换 paho）
type Conn interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
	Disconnect()
	IsConnected() bool
}

// Dialer 连接工厂。会话管理器为每个盒子建立独立连接，
// 断线重连由会话管理器自己调度（带退避），不依赖 paho 的自动重连
type Dialer interface {
	Dial(clientID string, onLost func(error)) (Conn, error)
}

// PahoDialer 基于 paho 的连接工厂
type PahoDialer struct {
	cfg    *config.MQTTConfig
	logger *zap.Logger
}

// NewPahoDialer 创建连接工厂
func NewPahoDialer(cfg *config.MQTTConfig, logger *zap.Logger) *PahoDialer {
	return &PahoDialer{cfg: cfg, logger: logger}
}

// Dial 建立到 broker 的连接
func (d *PahoDialer) Dial(clientID string, onLost func(error)) (Conn, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.cfg.Broker)
	opts.SetClientID(clientID)

	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
	}
	if d.cfg.Password != "" {
		opts.SetPassword(d.cfg.Password)
	}

	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	if onLost != nil {
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &pahoConn{client: client, logger: d.logger}, nil
}

type pahoConn struct {
	client mqtt.Client
	logger *zap.Logger
}

// Subscribe 订阅主题
func (c *pahoConn) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断处理
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Publish 发布消息
func (c *pahoConn) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *pahoConn) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *pahoConn) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *pahoConn) IsConnected() bool {
	return c.client.IsConnected()
}

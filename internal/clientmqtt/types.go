package clientmqtt

import "io"

type MQTTConf struct {
	ClientID    string // ClientID - уникальное имя клиента для брокеров.
	Schema      string // Schema - тип подключения.
	Host        string // Host - адрес MQTT сервера.
	Port        string // Port - порт MQTT сервера.
	User        string // User - логин для подключения к MQTT серверу.
	Password    string // Password - пароль для подключения к MQTT серверу.
	Qos         byte   // Qos - качество обслуживания.
	TopicPrefix string // TopicPrefix - корень топиков.
}

type DMXCommand struct {
	Channel uint16 // Channel is the channel a command can talk to (0-511).
	Value   uint8  // Value is the value a DMX channel can represent (0-255).
}

type Payload []DMXCommand

// CommandHandler applies one control protocol command, see control.Parser.Handle.
type CommandHandler func(buf []byte, w io.Writer) (int, error)

type update struct {
	topic   string
	payload Payload
}

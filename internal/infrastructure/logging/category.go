package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	Internal        Category = "Internal"
	Relay           Category = "Relay"
	RabbitMQ        Category = "RabbitMQ"
	Tracing         Category = "Tracing"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	ExternalService SubCategory = "ExternalService"

	// Relay
	Connect      SubCategory = "Connect"
	Join         SubCategory = "Join"
	Leave        SubCategory = "Leave"
	Chat         SubCategory = "Chat"
	Heartbeat    SubCategory = "Heartbeat"
	Backpressure SubCategory = "Backpressure"
	RateLimiting SubCategory = "RateLimiting"
	Protocol     SubCategory = "Protocol"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ConnID       ExtraKey = "ConnID"
	RoomID       ExtraKey = "RoomID"
	Member       ExtraKey = "Member"
	Reason       ExtraKey = "Reason"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
)

package transport

import (
	"encoding/json"
	"time"
)

// Message is the envelope the broadcaster pushes with the "broadcast"
// notification.
type Message struct {
	Id         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	CreateTime time.Time       `json:"createTime"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// Body returns the application payload. Publishers that send the
// notification as a serialized JSON string get it unwrapped.
func (m Message) Body() []byte {
	var text string
	if err := json.Unmarshal(m.Payload, &text); err == nil {
		return []byte(text)
	}

	return m.Payload
}

type authRequest struct {
	Token string `json:"token"`
}

type authResponse struct {
	Success bool `json:"success"`
}

type subscribeRequest struct {
	Channel string `json:"channel"`
}

type subscribeResponse struct {
	SubscriptionId string    `json:"subscriptionId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type unsubscribeResponse struct {
	Success bool `json:"success"`
}

type publishRequest struct {
	ChannelId string `json:"channelId"`
	Payload   any    `json:"payload"`
}

type heartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

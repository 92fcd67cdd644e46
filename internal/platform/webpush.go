package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goevery/notifier/internal/ierr"
)

type WebPushConfig struct {
	Subscription    webpush.Subscription
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
}

// ParseWebPushSubscription decodes the PushSubscription JSON a browser
// hands out after the user accepted notifications.
func ParseWebPushSubscription(raw string) (webpush.Subscription, error) {
	var subscription webpush.Subscription

	if err := json.Unmarshal([]byte(raw), &subscription); err != nil {
		return webpush.Subscription{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	if subscription.Endpoint == "" {
		return webpush.Subscription{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("push subscription endpoint is required"))
	}

	return subscription, nil
}

type webPushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// WebPushNotifier delivers notifications to a browser push subscription.
type WebPushNotifier struct {
	config WebPushConfig
	send   func(message []byte, subscription *webpush.Subscription, options *webpush.Options) error
}

func NewWebPushNotifier(config WebPushConfig) *WebPushNotifier {
	return &WebPushNotifier{
		config: config,
		send:   sendWebPush,
	}
}

func sendWebPush(message []byte, subscription *webpush.Subscription, options *webpush.Options) error {
	resp, err := webpush.SendNotification(message, subscription, options)
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("push service responded %d", resp.StatusCode))
	}

	return nil
}

func (n *WebPushNotifier) Show(ctx context.Context, title string, body string) error {
	message, err := json.Marshal(webPushMessage{Title: title, Body: body})
	if err != nil {
		return err
	}

	ttl := n.config.TTL
	if ttl <= 0 {
		ttl = 60
	}

	return n.send(message, &n.config.Subscription, &webpush.Options{
		Subscriber:      n.config.Subscriber,
		VAPIDPublicKey:  n.config.VAPIDPublicKey,
		VAPIDPrivateKey: n.config.VAPIDPrivateKey,
		TTL:             ttl,
	})
}

// RequestPermission is granted once the browser handed us a subscription.
func (n *WebPushNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	if n.config.Subscription.Endpoint == "" {
		return PermissionDenied, nil
	}

	return PermissionGranted, nil
}

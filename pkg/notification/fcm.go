package notification

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// TokenStore holds the FCM registration tokens of each user
type TokenStore interface {
	List(ctx context.Context, authUser string) ([]string, error)
	Remove(ctx context.Context, authUser string, tokens ...string) error
}

// Alert is the push content of a threshold breach
type Alert struct {
	DeviceID   string
	DeviceName string
	Title      string
	Body       string
}

// NotificationService handles FCM notifications
type NotificationService struct {
	client *messaging.Client
	tokens TokenStore
}

// NewNotificationService creates a new FCM notification service.
// It returns nil (push disabled) when Firebase is not configured.
func NewNotificationService(credentialsFile string, tokens TokenStore) (*NotificationService, error) {
	if credentialsFile == "" {
		log.Println("⚠️ Firebase credentials not provided, push notifications disabled")
		return nil, nil
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("⚠️ Failed to initialize Firebase app: %v (push notifications disabled)", err)
		return nil, nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("⚠️ Failed to get messaging client: %v", err)
		return nil, nil
	}

	log.Println("✅ Firebase FCM initialized")
	return &NotificationService{
		client: client,
		tokens: tokens,
	}, nil
}

// BuildAlertMessage is the multicast message for one alert
func BuildAlertMessage(tokens []string, alert Alert) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: alert.Title,
			Body:  alert.Body,
		},
		Data: map[string]string{
			"type":        "threshold_alert",
			"device_id":   alert.DeviceID,
			"device_name": alert.DeviceName,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
}

// SendAlert pushes alert to every registered token of authUser.
// Tokens FCM reports as unregistered are dropped from the store.
func (s *NotificationService) SendAlert(ctx context.Context, authUser string, alert Alert) error {
	if s == nil || s.client == nil {
		return nil
	}

	tokens, err := s.tokens.List(ctx, authUser)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	br, err := s.client.SendEachForMulticast(ctx, BuildAlertMessage(tokens, alert))
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	if br.FailureCount > 0 {
		var stale []string
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			log.Printf("⚠️ FCM failure for token %s: %v", tokens[idx], resp.Error)
			if messaging.IsUnregistered(resp.Error) {
				stale = append(stale, tokens[idx])
			}
		}
		if len(stale) > 0 {
			if err := s.tokens.Remove(ctx, authUser, stale...); err != nil {
				log.Printf("⚠️ Failed to drop stale FCM tokens: %v", err)
			}
		}
	}

	return nil
}

package platform

import (
	"context"
	"io"

	"go.uber.org/zap"
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notifier displays a notification outside the application, e.g. on the
// desktop or through a push service.
type Notifier interface {
	Show(ctx context.Context, title string, body string) error
}

// PermissionRequester asks the platform whether notifications may be shown.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

type Cue string

const CueNotification Cue = "notification"

type SoundPlayer interface {
	Play(cue Cue) error
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{
		logger,
	}
}

func (n *LogNotifier) Show(ctx context.Context, title string, body string) error {
	n.logger.Info(title, zap.String("body", body))

	return nil
}

func (n *LogNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionGranted, nil
}

type NoopNotifier struct{}

func (NoopNotifier) Show(ctx context.Context, title string, body string) error {
	return nil
}

func (NoopNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionDenied, nil
}

// BellPlayer rings the terminal bell.
type BellPlayer struct {
	w io.Writer
}

func NewBellPlayer(w io.Writer) *BellPlayer {
	return &BellPlayer{
		w,
	}
}

func (p *BellPlayer) Play(cue Cue) error {
	_, err := p.w.Write([]byte("\a"))

	return err
}

type NoopPlayer struct{}

func (NoopPlayer) Play(cue Cue) error {
	return nil
}

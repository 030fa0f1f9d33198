package adapter

import "telegram-bot-manager/internal/domain/model"

// ControlPublisher delivers notifications to the control plane. Publish returns
// domain.ErrChannelDisconnected when the stream is down; nothing is buffered.
type ControlPublisher interface {
	Publish(n model.Notification) error
}

package usecase

import (
	"errors"

	"telegram-bot-manager/internal/domain"
)

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

// isDisconnected reports a publish that was dropped because the control plane is down.
func isDisconnected(err error) bool { return errors.Is(err, domain.ErrChannelDisconnected) }

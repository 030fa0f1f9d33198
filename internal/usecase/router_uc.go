// File: internal/usecase/router_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/infra/logging"
	"telegram-bot-manager/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ RouterUseCase = (*routerUC)(nil)

type RouteOutcome string

const (
	RouteAccepted  RouteOutcome = "accepted"
	RouteRejected  RouteOutcome = "rejected"
	RouteDuplicate RouteOutcome = "duplicate"
	RouteFailed    RouteOutcome = "failed"
)

// Deduper remembers processed update ids. Seen marks the id and reports
// whether it had been marked before; Forget drops the mark.
type Deduper interface {
	Seen(ctx context.Context, botID string, updateID int64) (bool, error)
	Forget(ctx context.Context, botID string, updateID int64) error
}

// Replier sends a chat message through a bot's own session.
type Replier interface {
	SendMessage(ctx context.Context, botID, userID, text string) error
}

// Dispatcher runs tasks with per-key ordering. Implemented by worker.Pool.
type Dispatcher interface {
	Submit(key string, task func(ctx context.Context) error) error
}

type RouterOptions struct {
	TrialEndedMessage string
	UnknownUsername   string
}

// RouterUseCase consumes session events: lifecycle events are forwarded to the
// control plane, user messages go through the quota ledger first.
type RouterUseCase interface {
	Run(ctx context.Context, events <-chan model.SessionEvent) error
	HandleEvent(ctx context.Context, ev model.SessionEvent)
	HandleMessage(ctx context.Context, msg *model.InboundMessage) (RouteOutcome, error)
}

type routerUC struct {
	ledger    QuotaUseCase
	messages  repository.MessageRepository
	tm        repository.TransactionManager
	replier   Replier
	publisher adapter.ControlPublisher
	dedupe    Deduper // optional
	dispatch  Dispatcher
	opts      RouterOptions
	log       *zerolog.Logger
}

func NewRouterUseCase(
	ledger QuotaUseCase,
	messages repository.MessageRepository,
	tm repository.TransactionManager,
	replier Replier,
	publisher adapter.ControlPublisher,
	dedupe Deduper,
	dispatch Dispatcher,
	opts RouterOptions,
	logger *zerolog.Logger,
) *routerUC {
	if opts.UnknownUsername == "" {
		opts.UnknownUsername = "unknown user"
	}
	if opts.TrialEndedMessage == "" {
		opts.TrialEndedMessage = fmt.Sprintf("Your trial has ended (%d messages used). Please contact the administrator to activate access.", ledger.Limit())
	}
	l := logger.With().Str("component", "RouterUseCase").Logger()
	return &routerUC{
		ledger:    ledger,
		messages:  messages,
		tm:        tm,
		replier:   replier,
		publisher: publisher,
		dedupe:    dedupe,
		dispatch:  dispatch,
		opts:      opts,
		log:       &l,
	}
}

// Run consumes events until ctx is done. Messages are handed to the dispatcher
// keyed by (bot, user) so one slow user never holds up another.
func (r *routerUC) Run(ctx context.Context, events <-chan model.SessionEvent) error {
	r.log.Info().Msg("router started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("router stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == model.SessionMessage && ev.Message != nil && r.dispatch != nil {
				msg := ev.Message
				task := func(ctx context.Context) error {
					_, err := r.HandleMessage(ctx, msg)
					return err
				}
				if err := r.dispatch.Submit(quotaKey(msg.BotID, msg.UserID), task); err != nil {
					r.log.Warn().Err(err).Str("bot_id", msg.BotID).Msg("dispatch refused; handling inline")
					_ = task(ctx)
				}
				continue
			}
			r.HandleEvent(ctx, ev)
		}
	}
}

func (r *routerUC) HandleEvent(ctx context.Context, ev model.SessionEvent) {
	switch ev.Kind {
	case model.SessionMessage:
		if ev.Message == nil {
			return
		}
		if _, err := r.HandleMessage(ctx, ev.Message); err != nil {
			r.log.Debug().Err(err).Str("bot_id", ev.BotID).Msg("message not fully handled")
		}
	case model.SessionStarted:
		r.publish(model.Notification{
			Type: model.NotifyBotStarted,
			Data: model.BotStartedPayload{BotID: ev.BotID, BotName: ev.BotName},
		})
	case model.SessionStopped:
		r.publish(model.Notification{
			Type: model.NotifyBotStopped,
			Data: model.BotStoppedPayload{BotID: ev.BotID},
		})
	case model.SessionError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		r.publish(model.Notification{
			Type: model.NotifyBotError,
			Data: model.BotErrorPayload{BotID: ev.BotID, Error: msg},
		})
	default:
		r.log.Warn().Str("event", string(ev.Kind)).Msg("unknown session event")
	}
}

// HandleMessage applies the quota policy to one inbound message. Errors are
// logged and returned for observability only; the caller keeps going.
func (r *routerUC) HandleMessage(ctx context.Context, msg *model.InboundMessage) (RouteOutcome, error) {
	ctx = logging.WithBotID(ctx, msg.BotID)
	ctx = logging.WithTgUserID(ctx, msg.UserID)
	ctx = logging.WithTraceID(ctx, "")
	log := logging.With(ctx, r.log)
	defer logging.TraceDuration(log, "Router.HandleMessage")()

	outcome, err := r.handle(ctx, log, msg)
	metrics.IncRouterMessage(string(outcome))
	return outcome, err
}

func (r *routerUC) handle(ctx context.Context, log *zerolog.Logger, msg *model.InboundMessage) (RouteOutcome, error) {
	if r.dedupe != nil && msg.UpdateID != 0 {
		dup, err := r.dedupe.Seen(ctx, msg.BotID, msg.UpdateID)
		switch {
		case err != nil:
			log.Warn().Err(err).Int64("update_id", msg.UpdateID).Msg("dedupe unavailable; processing anyway")
		case dup:
			log.Debug().Int64("update_id", msg.UpdateID).Msg("duplicate update skipped")
			return RouteDuplicate, nil
		}
	}

	unlock, err := r.ledger.Lock(ctx, msg.BotID, msg.UserID)
	if err != nil {
		r.release(ctx, log, msg)
		return RouteFailed, err
	}
	defer unlock()

	rec, err := r.ledger.Check(ctx, repository.NoTX, msg.BotID, msg.UserID)
	if err != nil {
		log.Error().Err(err).Msg("quota lookup failed")
		r.release(ctx, log, msg)
		return RouteFailed, err
	}

	if !rec.Allows(r.ledger.Limit()) {
		if err := r.replier.SendMessage(ctx, msg.BotID, msg.UserID, r.opts.TrialEndedMessage); err != nil {
			log.Warn().Err(err).Msg("trial-ended reply failed")
		}
		log.Info().Int("count", rec.Count()).Msg("message rejected: trial exhausted")
		return RouteRejected, nil
	}

	username := msg.DisplayName(r.opts.UnknownUsername)
	count := rec.Count()
	storeErr := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		in := model.NewChatMessage(msg.BotID, msg.UserID, model.DirectionIncoming, msg.Text, msg.ReceivedAt)
		in.UpdateID = msg.UpdateID
		if err := r.messages.Append(ctx, tx, in); err != nil {
			return err
		}
		if rec.Authorized() {
			return nil
		}
		n, err := r.ledger.Record(ctx, tx, msg.BotID, msg.UserID, username)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	switch {
	case errors.Is(storeErr, domain.ErrAlreadyExists):
		log.Debug().Int64("update_id", msg.UpdateID).Msg("update already stored")
		return RouteDuplicate, nil
	case storeErr != nil:
		// nothing was stored or counted, so nothing is forwarded
		log.Error().Err(storeErr).Msg("persisting message failed")
		r.release(ctx, log, msg)
		return RouteFailed, storeErr
	}

	r.publish(model.Notification{
		Type: model.NotifyNewMessage,
		Data: model.NewMessagePayload{
			BotID:            msg.BotID,
			TelegramUserID:   msg.UserID,
			TelegramUsername: username,
			Message:          msg.Text,
			MessageCount:     count,
		},
	})
	return RouteAccepted, nil
}

// release drops the dedupe claim of a message that was not processed so a
// redelivery gets another attempt.
func (r *routerUC) release(ctx context.Context, log *zerolog.Logger, msg *model.InboundMessage) {
	if r.dedupe == nil || msg.UpdateID == 0 {
		return
	}
	if err := r.dedupe.Forget(context.WithoutCancel(ctx), msg.BotID, msg.UpdateID); err != nil {
		log.Warn().Err(err).Int64("update_id", msg.UpdateID).Msg("dedupe release failed")
	}
}

func (r *routerUC) publish(n model.Notification) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(n); err != nil {
		if isDisconnected(err) {
			r.log.Debug().Str("type", n.Type).Msg("control channel down; notification dropped")
			return
		}
		r.log.Warn().Err(err).Str("type", n.Type).Msg("publish failed")
	}
}

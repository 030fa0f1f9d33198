// File: internal/usecase/command_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ CommandUseCase = (*commandUC)(nil)

// SessionController is the part of the session registry driven by commands.
type SessionController interface {
	StartSession(ctx context.Context, botID, token string, cfg model.SessionConfig) error
	StopSession(ctx context.Context, botID string) error
	SendMessage(ctx context.Context, botID, userID, text string) error
	IsRunning(botID string) bool
}

// CommandUseCase executes control-plane commands.
type CommandUseCase interface {
	Dispatch(ctx context.Context, env model.Envelope) error
	// LoadActiveBots starts every runnable bot that is not running yet and
	// returns how many were started.
	LoadActiveBots(ctx context.Context) (int, error)
}

type commandUC struct {
	sessions  SessionController
	bots      repository.BotRepository
	messages  repository.MessageRepository
	publisher adapter.ControlPublisher
	now       func() time.Time
	log       *zerolog.Logger
}

func NewCommandUseCase(
	sessions SessionController,
	bots repository.BotRepository,
	messages repository.MessageRepository,
	publisher adapter.ControlPublisher,
	logger *zerolog.Logger,
) *commandUC {
	l := logger.With().Str("component", "CommandUseCase").Logger()
	return &commandUC{
		sessions:  sessions,
		bots:      bots,
		messages:  messages,
		publisher: publisher,
		now:       time.Now,
		log:       &l,
	}
}

// Dispatch never panics on bad input: malformed payloads are reported as
// domain.ErrInvalidArgument and unknown types are ignored.
func (c *commandUC) Dispatch(ctx context.Context, env model.Envelope) error {
	ctx = logging.WithTraceID(ctx, "")
	switch env.Type {
	case model.CmdStartBot:
		var cmd model.StartBotCommand
		if err := decode(env, &cmd); err != nil {
			return err
		}
		return c.startBot(ctx, cmd)
	case model.CmdStopBot:
		var cmd model.StopBotCommand
		if err := decode(env, &cmd); err != nil {
			return err
		}
		if strings.TrimSpace(cmd.BotID) == "" {
			return fmt.Errorf("%w: STOP_BOT without bot_id", domain.ErrInvalidArgument)
		}
		return c.sessions.StopSession(ctx, cmd.BotID)
	case model.CmdSendMessage:
		var cmd model.SendMessageCommand
		if err := decode(env, &cmd); err != nil {
			return err
		}
		return c.sendMessage(ctx, cmd)
	case model.CmdReloadBots:
		n, err := c.LoadActiveBots(ctx)
		if err != nil {
			return err
		}
		c.log.Info().Int("started", n).Msg("bots reloaded")
		return nil
	default:
		c.log.Warn().Str("type", env.Type).Msg("unknown command ignored")
		return nil
	}
}

func (c *commandUC) startBot(ctx context.Context, cmd model.StartBotCommand) error {
	botID := strings.TrimSpace(cmd.BotID)
	if botID == "" {
		return fmt.Errorf("%w: START_BOT without bot_id", domain.ErrInvalidArgument)
	}
	token, cfg := strings.TrimSpace(cmd.BotToken), cmd.Config
	if token == "" {
		// the control plane may only name the bot; the registration holds the rest
		reg, err := c.bots.FindByID(ctx, repository.NoTX, botID)
		if err != nil {
			return fmt.Errorf("load bot %s: %w", botID, err)
		}
		if !reg.Runnable(c.now()) {
			return fmt.Errorf("%w: %s is %s", domain.ErrBotNotRunnable, botID, reg.Status)
		}
		token, cfg = reg.Token, reg.SessionConfig()
	}
	return c.sessions.StartSession(ctx, botID, token, cfg)
}

func (c *commandUC) sendMessage(ctx context.Context, cmd model.SendMessageCommand) error {
	userID := cmd.TelegramUserID.String()
	if strings.TrimSpace(cmd.BotID) == "" || strings.TrimSpace(cmd.Message) == "" {
		return fmt.Errorf("%w: SEND_MESSAGE requires bot_id and message", domain.ErrInvalidArgument)
	}
	if _, err := parseUserID(userID); err != nil {
		return err
	}

	if err := c.sessions.SendMessage(ctx, cmd.BotID, userID, cmd.Message); err != nil {
		c.log.Warn().Err(err).Str("bot_id", cmd.BotID).Str("tg_user_id", userID).Msg("outgoing message not delivered")
		if c.publisher != nil {
			perr := c.publisher.Publish(model.Notification{
				Type: model.NotifyBotError,
				Data: model.BotErrorPayload{BotID: cmd.BotID, Error: err.Error()},
			})
			if perr != nil && !isDisconnected(perr) {
				c.log.Warn().Err(perr).Msg("publish delivery error failed")
			}
		}
		return err
	}

	out := model.NewChatMessage(cmd.BotID, userID, model.DirectionOutgoing, cmd.Message, c.now())
	if err := c.messages.Append(ctx, repository.NoTX, out); err != nil {
		c.log.Error().Err(err).Str("bot_id", cmd.BotID).Msg("persisting outgoing message failed")
	}
	return nil
}

// LoadActiveBots starts runnable bots concurrently. One failing bot does not
// stop the others.
func (c *commandUC) LoadActiveBots(ctx context.Context) (int, error) {
	bots, err := c.bots.ListRunnable(ctx, repository.NoTX, c.now())
	if err != nil {
		return 0, fmt.Errorf("list runnable bots: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, b := range bots {
		if c.sessions.IsRunning(b.ID) {
			continue
		}
		wg.Add(1)
		go func(b *model.BotRegistration) {
			defer wg.Done()
			if err := c.sessions.StartSession(ctx, b.ID, b.Token, b.SessionConfig()); err != nil {
				c.log.Error().Err(err).Str("bot_id", b.ID).Msg("failed to start bot")
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		}(b)
	}
	wg.Wait()
	c.log.Info().Int("runnable", len(bots)).Int("started", started).Msg("active bots loaded")
	return started, nil
}

func decode(env model.Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domain.ErrInvalidArgument, env.Type)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidArgument, env.Type, err)
	}
	return nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: telegram user id %q", domain.ErrInvalidArgument, s)
	}
	return id, nil
}

//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/usecase"
)

func envelope(t *testing.T, typ string, data any) model.Envelope {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return model.Envelope{Type: typ, Data: b}
}

func TestCommand_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should start a bot with the token from the command", func(t *testing.T) {
		// --- Arrange ---
		sessions := &MockSessions{}
		var gotToken string
		var gotCfg model.SessionConfig
		sessions.StartFunc = func(ctx context.Context, botID, token string, cfg model.SessionConfig) error {
			gotToken, gotCfg = token, cfg
			return nil
		}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		// --- Act ---
		err := uc.Dispatch(ctx, model.Envelope{
			Type: model.CmdStartBot,
			Data: json.RawMessage(`{"bot_id":"b1","bot_token":"123:ABC","config":{"bot_name":"Helper","welcome_message":"hey"}}`),
		})

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, sessions.Started)
		assert.Equal(t, "123:ABC", gotToken)
		assert.Equal(t, "Helper", gotCfg.BotName)
		assert.Equal(t, "hey", gotCfg.WelcomeMessage)
	})

	t.Run("should load the registration when the token is missing", func(t *testing.T) {
		sessions := &MockSessions{}
		var gotToken string
		sessions.StartFunc = func(ctx context.Context, botID, token string, cfg model.SessionConfig) error {
			gotToken = token
			return nil
		}
		bots := &MockBotRepo{FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error) {
			return &model.BotRegistration{ID: id, Token: "999:stored", Name: "Stored", Status: model.BotStatusActive, IsAuthorized: true}, nil
		}}
		uc := usecase.NewCommandUseCase(sessions, bots, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		err := uc.Dispatch(ctx, envelope(t, model.CmdStartBot, map[string]any{"bot_id": "b1"}))

		require.NoError(t, err)
		assert.Equal(t, "999:stored", gotToken)
	})

	t.Run("should refuse to start a stored bot that is not runnable", func(t *testing.T) {
		// --- Arrange ---
		past := time.Now().Add(-time.Hour)
		regs := map[string]*model.BotRegistration{
			"expired":      {ID: "expired", Token: "1:a", Status: model.BotStatusExpired, IsAuthorized: false},
			"inactive":     {ID: "inactive", Token: "2:b", Status: model.BotStatusInactive, IsAuthorized: true},
			"unauthorized": {ID: "unauthorized", Token: "3:c", Status: model.BotStatusActive},
			"overdue":      {ID: "overdue", Token: "4:d", Status: model.BotStatusActive, IsAuthorized: true, ExpiresAt: &past},
		}
		sessions := &MockSessions{}
		bots := &MockBotRepo{FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error) {
			return regs[id], nil
		}}
		uc := usecase.NewCommandUseCase(sessions, bots, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		for id := range regs {
			// --- Act ---
			err := uc.Dispatch(ctx, envelope(t, model.CmdStartBot, map[string]any{"bot_id": id}))

			// --- Assert ---
			assert.ErrorIs(t, err, domain.ErrBotNotRunnable, id)
		}
		assert.Empty(t, sessions.Started)
	})

	t.Run("should stop a bot", func(t *testing.T) {
		sessions := &MockSessions{}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		err := uc.Dispatch(ctx, envelope(t, model.CmdStopBot, model.StopBotCommand{BotID: "b1"}))

		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, sessions.Stopped)
	})

	t.Run("should send and persist an outgoing message with a numeric user id", func(t *testing.T) {
		// --- Arrange ---
		sessions := &MockSessions{}
		msgs := &MockMessageRepo{}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, msgs, &MockPublisher{}, newTestLogger())

		// --- Act ---
		err := uc.Dispatch(ctx, model.Envelope{
			Type: model.CmdSendMessage,
			Data: json.RawMessage(`{"bot_id":"b1","telegram_user_id":123456789,"message":"reply"}`),
		})

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, []sent{{BotID: "b1", UserID: "123456789", Text: "reply"}}, sessions.sentCopy())
		require.Len(t, msgs.all(), 1)
		out := msgs.all()[0]
		assert.Equal(t, model.DirectionOutgoing, out.Direction)
		assert.Equal(t, "123456789", out.TelegramUserID)
		assert.NotEmpty(t, out.ID)
	})

	t.Run("should accept a string user id", func(t *testing.T) {
		sessions := &MockSessions{}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		err := uc.Dispatch(ctx, model.Envelope{
			Type: model.CmdSendMessage,
			Data: json.RawMessage(`{"bot_id":"b1","telegram_user_id":"42","message":"reply"}`),
		})

		require.NoError(t, err)
		assert.Equal(t, "42", sessions.sentCopy()[0].UserID)
	})

	t.Run("should report delivery failures without persisting", func(t *testing.T) {
		// --- Arrange ---
		sessions := &MockSessions{SendFunc: func(ctx context.Context, botID, userID, text string) error {
			return domain.ErrSessionNotFound
		}}
		msgs := &MockMessageRepo{}
		pub := &MockPublisher{}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, msgs, pub, newTestLogger())

		// --- Act ---
		err := uc.Dispatch(ctx, envelope(t, model.CmdSendMessage, map[string]any{
			"bot_id": "ghost", "telegram_user_id": "42", "message": "hi",
		}))

		// --- Assert ---
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.Empty(t, msgs.all())
		require.Len(t, pub.ofType(model.NotifyBotError), 1)
	})

	t.Run("should keep the delivery when persisting fails", func(t *testing.T) {
		sessions := &MockSessions{}
		msgs := &MockMessageRepo{AppendFunc: func(ctx context.Context, tx repository.Tx, m *model.ChatMessage) error {
			return domain.ErrStoreUnavailable
		}}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, msgs, &MockPublisher{}, newTestLogger())

		err := uc.Dispatch(ctx, envelope(t, model.CmdSendMessage, map[string]any{
			"bot_id": "b1", "telegram_user_id": "42", "message": "hi",
		}))

		require.NoError(t, err)
		assert.Len(t, sessions.sentCopy(), 1)
	})

	t.Run("should reject malformed payloads", func(t *testing.T) {
		uc := usecase.NewCommandUseCase(&MockSessions{}, &MockBotRepo{}, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		cases := []model.Envelope{
			{Type: model.CmdStartBot, Data: json.RawMessage(`{"bot_id":`)},
			{Type: model.CmdStartBot, Data: json.RawMessage(`{}`)},
			{Type: model.CmdStopBot},
			{Type: model.CmdSendMessage, Data: json.RawMessage(`{"bot_id":"b1","telegram_user_id":"abc","message":"x"}`)},
			{Type: model.CmdSendMessage, Data: json.RawMessage(`{"bot_id":"b1","telegram_user_id":1.5,"message":"x"}`)},
		}
		for _, env := range cases {
			err := uc.Dispatch(ctx, env)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument, "payload %s", env.Data)
		}
	})

	t.Run("should ignore unknown command types", func(t *testing.T) {
		sessions := &MockSessions{}
		uc := usecase.NewCommandUseCase(sessions, &MockBotRepo{}, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		err := uc.Dispatch(ctx, model.Envelope{Type: "SELF_DESTRUCT", Data: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Empty(t, sessions.Started)
		assert.Empty(t, sessions.Stopped)
	})
}

func TestCommand_LoadActiveBots(t *testing.T) {
	ctx := context.Background()

	t.Run("should start every runnable bot despite one failure", func(t *testing.T) {
		// --- Arrange ---
		sessions := &MockSessions{StartFunc: func(ctx context.Context, botID, token string, cfg model.SessionConfig) error {
			if botID == "bad" {
				return domain.ErrTransportLaunch
			}
			return nil
		}}
		bots := &MockBotRepo{ListRunnableFunc: func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
			return []*model.BotRegistration{
				{ID: "a", Token: "1:a"},
				{ID: "bad", Token: "2:b"},
				{ID: "c", Token: "3:c"},
			}, nil
		}}
		uc := usecase.NewCommandUseCase(sessions, bots, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		// --- Act ---
		n, err := uc.LoadActiveBots(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		started := append([]string(nil), sessions.Started...)
		sort.Strings(started)
		assert.Equal(t, []string{"a", "c"}, started)
	})

	t.Run("should skip bots that are already running on reload", func(t *testing.T) {
		sessions := &MockSessions{}
		require.NoError(t, sessions.StartSession(ctx, "a", "1:a", model.SessionConfig{}))
		bots := &MockBotRepo{ListRunnableFunc: func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
			return []*model.BotRegistration{{ID: "a", Token: "1:a"}, {ID: "b", Token: "2:b"}}, nil
		}}
		uc := usecase.NewCommandUseCase(sessions, bots, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		err := uc.Dispatch(ctx, model.Envelope{Type: model.CmdReloadBots, Data: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, sessions.Started)
	})

	t.Run("should surface store failures", func(t *testing.T) {
		bots := &MockBotRepo{ListRunnableFunc: func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.BotRegistration, error) {
			return nil, errors.New("connection refused")
		}}
		uc := usecase.NewCommandUseCase(&MockSessions{}, bots, &MockMessageRepo{}, &MockPublisher{}, newTestLogger())

		_, err := uc.LoadActiveBots(ctx)

		assert.Error(t, err)
	})
}

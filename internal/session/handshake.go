package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/termchat-server/internal/audit"
	"github.com/vovakirdan/termchat-server/internal/auth"
	"github.com/vovakirdan/termchat-server/internal/core"
)

// Handshake lines.
const (
	AuthRequired = "AUTH_REQUIRED"
	LoginPrefix  = "LOGIN:"

	promptNewUser     = "NEW_USER:Пользователь не найден. Создать новый аккаунт? (y/n)"
	promptNewPassword = "PASSWORD_NEW:Придумайте пароль (от 6 до 72 символов)"
	promptPassword    = "PASSWORD:Введите пароль"
)

var (
	errRegistrationDeclined = fmt.Errorf("registration declined: %w", core.ErrAuth)
	errTooManyAttempts      = fmt.Errorf("too many failed attempts: %w", core.ErrAuth)
)

// authenticate runs the challenge/response handshake and returns the
// authenticated username. Failed steps are reported with ERROR: and the client
// may start over with a new LOGIN: line until the attempt budget runs out.
func (m *Manager) authenticate(ctx context.Context, s *Session) (string, error) {
	if err := s.Send(AuthRequired); err != nil {
		return "", err
	}

	failures := 0
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return "", err
		}

		username, reason, err := m.attempt(ctx, s, strings.TrimSpace(line))
		if err != nil {
			return "", err
		}
		if reason == "" {
			return username, nil
		}

		failures++
		if err := s.Send("ERROR:" + reason); err != nil {
			return "", err
		}
		if m.opts.MaxAuthAttempts > 0 && failures >= m.opts.MaxAuthAttempts {
			return "", errTooManyAttempts
		}
	}
}

// attempt handles one LOGIN: exchange. A non-empty reason means the step
// failed and may be retried.
func (m *Manager) attempt(ctx context.Context, s *Session, line string) (username, reason string, err error) {
	raw, ok := strings.CutPrefix(line, LoginPrefix)
	if !ok {
		return "", "Ожидается LOGIN:<имя пользователя>", nil
	}
	username, err = auth.NormalizeUsername(raw)
	if err != nil {
		return "", "Имя должно содержать от 3 до 20 символов: буквы, цифры, '_' и '-'", nil
	}

	if m.users.Exists(username) {
		return m.login(ctx, s, username)
	}
	return m.register(ctx, s, username)
}

func (m *Manager) login(ctx context.Context, s *Session, username string) (string, string, error) {
	if err := s.Send(promptPassword); err != nil {
		return "", "", err
	}
	password, err := s.conn.ReadLine()
	if err != nil {
		return "", "", err
	}
	if !m.users.Authenticate(ctx, username, password) {
		m.audit.Record(ctx, username, audit.ActionLoginFailed, s.remote)
		return "", "Неверный пароль", nil
	}
	if err := s.Send(fmt.Sprintf("SUCCESS:Вход выполнен. Добро пожаловать, %s!", username)); err != nil {
		return "", "", err
	}
	return username, "", nil
}

func (m *Manager) register(ctx context.Context, s *Session, username string) (string, string, error) {
	if err := s.Send(promptNewUser); err != nil {
		return "", "", err
	}
	answer, err := s.conn.ReadLine()
	if err != nil {
		return "", "", err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "д", "да":
	default:
		_ = s.Send("ERROR:Регистрация отменена")
		return "", "", errRegistrationDeclined
	}

	if err := s.Send(promptNewPassword); err != nil {
		return "", "", err
	}
	password, err := s.conn.ReadLine()
	if err != nil {
		return "", "", err
	}

	if _, err := m.users.Register(ctx, username, password); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidPassword):
			return "", "Пароль должен содержать от 6 до 72 символов", nil
		case errors.Is(err, core.ErrUserExists):
			return "", "Пользователь с таким именем уже существует", nil
		default:
			s.log.Error().Err(err).Str("user", username).Msg("registration failed")
			return "", "Не удалось создать аккаунт", nil
		}
	}
	m.audit.Record(ctx, username, audit.ActionRegister, s.remote)
	if err := s.Send(fmt.Sprintf("SUCCESS:Аккаунт создан. Добро пожаловать, %s!", username)); err != nil {
		return "", "", err
	}
	return username, "", nil
}

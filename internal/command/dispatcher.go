// Package command parses client lines and routes them to room and user
// operations.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/audit"
	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/session"
	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/users"
)

// Marker starts every command line.
const Marker = "/"

const (
	defaultHistory = 10
	maxHistory     = 100
	dateLayout     = "2006-01-02 15:04:05"
)

// Replies shared by several commands.
const (
	ReplyNotInRoom    = "Вы не находитесь ни в одной комнате. Используйте /join <ID> или /create <название>"
	replyNoRoom       = "Вы не находитесь в комнате."
	replyRateLimited  = "Слишком много сообщений. Подождите немного."
	replyGoodbye      = "До свидания!"
	replyInternal     = "Внутренняя ошибка сервера. Попробуйте позже."
	replyUnknownRoom  = "Комната не найдена."
	replyJoinFailed   = "Не удалось присоединиться к комнате. Проверьте ID и пароль."
	replyBadRoomName  = "Название комнаты должно содержать от 1 до 50 символов."
	replyNotKickAdmin = "Только администратор может выгонять пользователей."
)

const helpText = `=== КОМАНДЫ ЧАТА ===
/help - показать справку
/list - список всех комнат
/create <название> [пароль] - создать комнату
/join <ID> [пароль] - присоединиться к комнате
/leave - покинуть текущую комнату
/users - список пользователей в комнате
/info - информация о текущей комнате
/kick <пользователь> - выгнать пользователя (только админ)
/password <новый_пароль> - изменить пароль комнаты (только админ)
/delete - удалить текущую комнату (только админ)
/profile - ваш профиль
/myrooms - комнаты, которые вы посещали
/history [N] - ваши последние сообщения
/set <ключ> <значение> - сохранить настройку профиля
/stats - статистика сервера
/exit - выйти из чата`

// Client is the caller as seen by the dispatcher.
type Client interface {
	core.Member
	// Allow reports whether another chat message is permitted right now.
	Allow() bool
}

type handlerFunc func(ctx context.Context, c Client, args []string) (string, bool)

// Dispatcher implements session.Handler.
type Dispatcher struct {
	rooms    *core.Registry
	users    *users.Directory
	stats    *stats.Counters
	audit    *audit.Recorder
	log      *zerolog.Logger
	commands map[string]handlerFunc
}

// New builds a dispatcher. counters and recorder may be nil.
func New(rooms *core.Registry, dir *users.Directory, counters *stats.Counters, recorder *audit.Recorder, logger *zerolog.Logger) *Dispatcher {
	if counters == nil {
		counters = stats.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	d := &Dispatcher{
		rooms: rooms,
		users: dir,
		stats: counters,
		audit: recorder,
		log:   logger,
	}
	d.commands = map[string]handlerFunc{
		"/help":     d.help,
		"/list":     d.list,
		"/create":   d.create,
		"/join":     d.join,
		"/leave":    d.leave,
		"/users":    d.members,
		"/info":     d.info,
		"/kick":     d.kick,
		"/password": d.password,
		"/delete":   d.deleteRoom,
		"/profile":  d.profile,
		"/myrooms":  d.myRooms,
		"/history":  d.history,
		"/set":      d.set,
		"/stats":    d.statistics,
		"/exit":     d.exit,
		"/quit":     d.exit,
		"/logout":   d.exit,
	}
	return d
}

// HandleLine implements session.Handler: the reply is written line by line.
func (d *Dispatcher) HandleLine(ctx context.Context, s *session.Session, line string) bool {
	reply, quit := d.Handle(ctx, s, line)
	if reply != "" {
		if err := s.SendLines(strings.Split(reply, "\n")...); err != nil {
			d.log.Debug().Err(err).Str("user", s.Name()).Msg("reply not delivered")
		}
	}
	return quit
}

// Handle executes one line for c and returns the text to send back (possibly
// multi-line) and whether the session should end.
func (d *Dispatcher) Handle(ctx context.Context, c Client, line string) (string, bool) {
	if !strings.HasPrefix(line, Marker) {
		return d.chat(ctx, c, line), false
	}

	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	d.audit.Record(ctx, c.Name(), audit.ActionCommand, name)

	fn, ok := d.commands[name]
	if !ok {
		return fmt.Sprintf("Неизвестная команда: %s. Используйте /help для справки.", name), false
	}
	return fn(ctx, c, fields[1:])
}

func (d *Dispatcher) chat(ctx context.Context, c Client, line string) string {
	name := c.Name()
	text := strings.TrimPrefix(line, name+": ")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if _, in := d.rooms.RoomOf(name); !in {
		return ReplyNotInRoom
	}
	if !c.Allow() {
		return replyRateLimited
	}

	roomID, err := d.rooms.Say(c, text)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return ReplyNotInRoom
		}
		d.log.Error().Err(err).Str("user", name).Msg("broadcast failed")
		return replyInternal
	}
	d.stats.MessagesSent.Add(1)
	if err := d.users.RecordMessage(ctx, name, roomID, text); err != nil {
		d.log.Warn().Err(err).Str("user", name).Msg("message not recorded")
	}
	return ""
}

func (d *Dispatcher) help(context.Context, Client, []string) (string, bool) {
	return helpText, false
}

func (d *Dispatcher) list(context.Context, Client, []string) (string, bool) {
	rooms := d.rooms.List()
	if len(rooms) == 0 {
		return "Нет доступных комнат.", false
	}
	var b strings.Builder
	b.WriteString("=== СПИСОК КОМНАТ ===")
	for _, r := range rooms {
		lock := "🔓"
		if r.Protected {
			lock = "🔒"
		}
		fmt.Fprintf(&b, "\n%s %s: %s (Админ: %s, Пользователей: %d)", lock, r.ID, r.Name, r.Admin, r.Members)
	}
	return b.String(), false
}

func (d *Dispatcher) create(ctx context.Context, c Client, args []string) (string, bool) {
	if len(args) < 1 {
		return "Использование: /create <название> [пароль]", false
	}
	name, password := args[0], optional(args, 1)
	roomID, err := d.rooms.CreateRoom(ctx, name, c.Name(), password)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			return replyBadRoomName, false
		}
		d.log.Error().Err(err).Str("user", c.Name()).Msg("create room failed")
		return replyInternal, false
	}
	d.audit.Record(ctx, c.Name(), audit.ActionRoomCreated, roomID)

	if reply, ok := d.enter(ctx, c, roomID, password); !ok {
		return reply, false
	}
	return fmt.Sprintf("Комната '%s' создана! ID: %s", name, roomID), false
}

func (d *Dispatcher) join(ctx context.Context, c Client, args []string) (string, bool) {
	if len(args) < 1 {
		return "Использование: /join <ID> [пароль]", false
	}
	roomID := args[0]
	if reply, ok := d.enter(ctx, c, roomID, optional(args, 1)); !ok {
		return reply, false
	}
	return "Вы присоединились к комнате " + roomID, false
}

// enter joins c to roomID and records the visit.
func (d *Dispatcher) enter(ctx context.Context, c Client, roomID, password string) (string, bool) {
	res, err := d.rooms.Join(c, roomID, password)
	if err != nil {
		d.audit.Record(ctx, c.Name(), audit.ActionJoinFailed, roomID)
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAuth) {
			return replyJoinFailed, false
		}
		d.log.Error().Err(err).Str("user", c.Name()).Str("room", roomID).Msg("join failed")
		return replyInternal, false
	}
	d.audit.Record(ctx, c.Name(), audit.ActionJoin, roomID)
	if err := d.users.RecordRoomVisit(ctx, c.Name(), roomID, res.Room.Name); err != nil {
		d.log.Warn().Err(err).Str("user", c.Name()).Msg("room visit not recorded")
	}
	return "", true
}

func (d *Dispatcher) leave(_ context.Context, c Client, _ []string) (string, bool) {
	if _, left := d.rooms.Leave(c); !left {
		return replyNoRoom, false
	}
	return "Вы покинули комнату.", false
}

func (d *Dispatcher) members(_ context.Context, c Client, _ []string) (string, bool) {
	roomID, in := d.rooms.RoomOf(c.Name())
	if !in {
		return replyNoRoom, false
	}
	names, err := d.rooms.Members(roomID)
	if err != nil {
		return replyNoRoom, false
	}
	return "Пользователи в комнате: " + strings.Join(names, ", "), false
}

func (d *Dispatcher) info(_ context.Context, c Client, _ []string) (string, bool) {
	roomID, in := d.rooms.RoomOf(c.Name())
	if !in {
		return replyNoRoom, false
	}
	info, err := d.rooms.Info(roomID)
	if err != nil {
		return replyNoRoom, false
	}
	lock := "Нет"
	if info.Protected {
		lock = "Да"
	}
	return fmt.Sprintf(`=== ИНФОРМАЦИЯ О КОМНАТЕ ===
Название: %s
ID: %s
Администратор: %s
Защищена паролем: %s
Пользователей: %d
Сообщений в истории: %d
Создана: %s
Последняя активность: %s`,
		info.Name, info.ID, info.Admin, lock, info.Members, info.Messages,
		info.CreatedAt.Format(dateLayout), info.LastActivity.Format(dateLayout)), false
}

func (d *Dispatcher) kick(ctx context.Context, c Client, args []string) (string, bool) {
	if len(args) < 1 {
		return "Использование: /kick <пользователь>", false
	}
	target := strings.ToLower(args[0])
	roomID, in := d.rooms.RoomOf(c.Name())
	if !in {
		return replyNoRoom, false
	}

	err := d.rooms.Kick(roomID, c.Name(), target)
	switch {
	case err == nil:
		d.audit.Record(ctx, c.Name(), audit.ActionKick, target)
		return fmt.Sprintf("Пользователь %s выгнан из комнаты.", target), false
	case errors.Is(err, core.ErrNotAdmin):
		return replyNotKickAdmin, false
	case errors.Is(err, core.ErrCannotKickSelf):
		return "Нельзя выгнать самого себя.", false
	case errors.Is(err, core.ErrTargetNotInRoom):
		return fmt.Sprintf("Пользователь %s не найден в комнате.", target), false
	case errors.Is(err, core.ErrRoomNotFound):
		return replyUnknownRoom, false
	default:
		d.log.Error().Err(err).Str("user", c.Name()).Msg("kick failed")
		return replyInternal, false
	}
}

func (d *Dispatcher) password(ctx context.Context, c Client, args []string) (string, bool) {
	if len(args) < 1 {
		return "Использование: /password <новый_пароль>", false
	}
	roomID, in := d.rooms.RoomOf(c.Name())
	if !in {
		return replyNoRoom, false
	}
	if err := d.rooms.SetPassword(ctx, roomID, c.Name(), args[0]); err != nil {
		if errors.Is(err, core.ErrNotAdmin) {
			return "Только администратор может изменять пароль.", false
		}
		return replyUnknownRoom, false
	}
	return "Пароль комнаты изменен на: " + args[0], false
}

func (d *Dispatcher) deleteRoom(ctx context.Context, c Client, _ []string) (string, bool) {
	roomID, in := d.rooms.RoomOf(c.Name())
	if !in {
		return replyNoRoom, false
	}
	if err := d.rooms.DeleteRoom(ctx, roomID, c.Name()); err != nil {
		if errors.Is(err, core.ErrNotAdmin) {
			return "Только администратор может удалить комнату.", false
		}
		return replyUnknownRoom, false
	}
	return fmt.Sprintf("Комната %s удалена.", roomID), false
}

func (d *Dispatcher) profile(_ context.Context, c Client, _ []string) (string, bool) {
	p, err := d.users.Profile(c.Name())
	if err != nil {
		return replyInternal, false
	}
	lastLogin := "никогда"
	if !p.LastLogin.IsZero() {
		lastLogin = p.LastLogin.Format(dateLayout)
	}
	var b strings.Builder
	fmt.Fprintf(&b, `=== ПРОФИЛЬ ===
Имя: %s
Зарегистрирован: %s
Последний вход: %s
Сообщений: %d
Посещено комнат: %d`, p.Username, p.CreatedAt.Format(dateLayout), lastLogin, p.Messages, p.Rooms)
	if len(p.Settings) > 0 {
		keys := make([]string, 0, len(p.Settings))
		for k := range p.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nНастройки:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s = %s", k, p.Settings[k])
		}
	}
	return b.String(), false
}

func (d *Dispatcher) myRooms(_ context.Context, c Client, _ []string) (string, bool) {
	visits, err := d.users.RoomHistory(c.Name())
	if err != nil {
		return replyInternal, false
	}
	if len(visits) == 0 {
		return "Вы еще не посещали комнаты.", false
	}
	var b strings.Builder
	b.WriteString("=== ВАШИ КОМНАТЫ ===")
	for _, v := range visits {
		fmt.Fprintf(&b, "\n%s: %s (%s)", v.RoomID, v.RoomName, v.At.Format(dateLayout))
	}
	return b.String(), false
}

func (d *Dispatcher) history(_ context.Context, c Client, args []string) (string, bool) {
	n := defaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return "Использование: /history [N]", false
		}
		n = min(v, maxHistory)
	}
	msgs, err := d.users.MessageHistory(c.Name(), n)
	if err != nil {
		return replyInternal, false
	}
	if len(msgs) == 0 {
		return "У вас еще нет сообщений.", false
	}
	var b strings.Builder
	b.WriteString("=== ВАШИ СООБЩЕНИЯ ===")
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n[%s] %s: %s", m.At.Format(dateLayout), m.RoomID, m.Text)
	}
	return b.String(), false
}

func (d *Dispatcher) set(ctx context.Context, c Client, args []string) (string, bool) {
	if len(args) < 2 {
		return "Использование: /set <ключ> <значение>", false
	}
	value := strings.Join(args[1:], " ")
	if err := d.users.SetSetting(ctx, c.Name(), args[0], value); err != nil {
		return replyInternal, false
	}
	return fmt.Sprintf("Настройка %s сохранена.", args[0]), false
}

func (d *Dispatcher) statistics(context.Context, Client, []string) (string, bool) {
	snap := d.stats.Snapshot(d.rooms.Len(), d.users.Len())
	return fmt.Sprintf(`=== СТАТИСТИКА СЕРВЕРА ===
Время работы: %s
Активных подключений: %d
Всего подключений: %d
Сообщений отправлено: %d
Комнат создано: %d
Пользователей зарегистрировано: %d
Активных комнат: %d
Всего пользователей: %d`,
		snap.Uptime.Truncate(time.Second), snap.ActiveConnections, snap.TotalConnections,
		snap.MessagesSent, snap.RoomsCreated, snap.UsersCreated, snap.Rooms, snap.Users), false
}

func (d *Dispatcher) exit(context.Context, Client, []string) (string, bool) {
	return replyGoodbye, true
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

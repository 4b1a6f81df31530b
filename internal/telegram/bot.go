package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/health"
	"mt5-trade-bot-go/internal/orchestrator"
	"mt5-trade-bot-go/internal/strategy"
	"mt5-trade-bot-go/internal/terminal"
)

// Menu button labels. The routing below matches on these exact strings.
const (
	btnBalance    = "💰 Account Balance"
	btnStrategies = "📊 Trading Strategies"
	btnTerms      = "📜 Terms & Conditions"
	btnStatus     = "🖥️ System Status"

	btnArbitrage = "🔺 Triangle Arbitrage"
	btnSMC       = "💡 Smart Money Concept"
	btnBreakout  = "🚀 Breakout Strategy"
	btnBackMain  = "🔙 Back to Main Menu"

	btnStart      = "▶️ Start Strategy"
	btnStop       = "⏹️ Stop Strategy"
	btnConfigure  = "⚙️ Configure Strategy"
	btnBackStrats = "🔙 Back to Strategies"
)

var (
	mainMenu = &ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{
			Row(btnBalance),
			Row(btnStrategies),
			Row(btnTerms),
			Row(btnStatus),
		},
		ResizeKeyboard: true,
	}

	strategyMenu = &ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{
			Row(btnArbitrage),
			Row(btnSMC),
			Row(btnBreakout),
			Row(btnBackMain),
		},
		ResizeKeyboard: true,
	}

	controlMenu = &ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{
			Row(btnStart),
			Row(btnStop),
			Row(btnConfigure),
			Row(btnBackStrats),
		},
		ResizeKeyboard: true,
	}

	strategyButtons = map[string]string{
		btnArbitrage: "arbitrage",
		btnSMC:       "smc",
		btnBreakout:  "breakout",
	}
)

const setUsage = "Usage:\n" +
	"/set cooldown 30s\n" +
	"/set check_interval 5s\n" +
	"/set lookback 200\n" +
	"/set timeframe M15\n" +
	"/set symbols EURUSD,USDJPY,EURJPY\n" +
	"/set param min_deviation 0.001"

const defaultErrorBackoff = 5 * time.Second
const defaultReconnectPause = 2 * time.Second

// API is the slice of the Telegram Bot API the bot consumes.
type API interface {
	GetMe(ctx context.Context) (*User, error)
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *ReplyKeyboardMarkup) error
}

// Controller starts, stops, and reshapes strategies.
type Controller interface {
	StartID(ctx context.Context, id string) error
	Stop(id string) error
	UpdateConfig(id string, patch strategy.Patch) (strategy.Config, error)
	Config(id string) (strategy.Config, error)
	Running(id string) bool
	Statuses() []orchestrator.Status
}

// Connection exposes the terminal session controls the balance view needs.
type Connection interface {
	EnsureConnection(ctx context.Context) bool
	Reconnect(ctx context.Context) bool
}

// StatusSource reports the health snapshot behind the status view.
type StatusSource interface {
	CurrentSnapshot(ctx context.Context) health.Snapshot
}

// AccountSource reads account state from the terminal.
type AccountSource interface {
	AccountInfo(ctx context.Context) (*terminal.AccountInfo, error)
}

// Deps collects everything the bot needs to serve its menus.
type Deps struct {
	API        API
	Controller Controller
	Connection Connection
	Health     StatusSource
	Account    AccountSource
	Authorizer *Authorizer
	Region     string
	ChatID     int64
	Logger     *zap.Logger
}

// Bot drives the Telegram control surface: a button-menu UI for balance,
// strategy control, and system status. All state it keeps is the per-chat
// strategy selection.
type Bot struct {
	api    API
	ctrl   Controller
	conn   Connection
	status StatusSource
	acct   AccountSource
	auth   *Authorizer
	region string
	chatID int64
	logger *zap.Logger

	errorBackoff   time.Duration
	reconnectPause time.Duration

	mu       sync.Mutex
	selected map[int64]string
}

// NewBot wires the control surface together.
func NewBot(deps Deps) *Bot {
	return &Bot{
		api:            deps.API,
		ctrl:           deps.Controller,
		conn:           deps.Connection,
		status:         deps.Health,
		acct:           deps.Account,
		auth:           deps.Authorizer,
		region:         deps.Region,
		chatID:         deps.ChatID,
		logger:         deps.Logger.Named("telegram"),
		errorBackoff:   defaultErrorBackoff,
		reconnectPause: defaultReconnectPause,
		selected:       make(map[int64]string),
	}
}

// Run polls for updates until ctx is cancelled. Poll failures back off and
// retry; handler failures only lose the reply they belong to.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach Telegram: %w", err)
	}
	b.logger.Info("Telegram bot online", zap.String("username", me.Username))

	if b.chatID != 0 {
		b.send(ctx, b.chatID,
			fmt.Sprintf("🤖 MT5 Trading Bot online\nServer Region: %s", b.region),
			mainMenu)
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.api.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("Failed to fetch updates", zap.Error(err))
			b.pause(ctx, b.errorBackoff)
			continue
		}

		for i := range updates {
			offset = updates[i].UpdateID + 1
			b.handleUpdate(ctx, &updates[i])
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd *Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}

	if !b.auth.Authorized(msg.From.ID) {
		b.logger.Warn("Unauthorized access attempt", zap.Int64("user_id", msg.From.ID))
		b.send(ctx, msg.Chat.ID, "⛔ Unauthorized access. Your user ID has been logged.", nil)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "/start" || text == btnBackMain:
		b.sendWelcome(ctx, msg.Chat.ID)
	case text == btnBalance:
		b.sendBalance(ctx, msg.Chat.ID)
	case text == btnStrategies || text == btnBackStrats:
		b.sendStrategyMenu(ctx, msg.Chat.ID)
	case text == btnTerms:
		b.sendTerms(ctx, msg.Chat.ID)
	case text == btnStatus:
		b.sendSystemStatus(ctx, msg.Chat.ID)
	case strategyButtons[text] != "":
		b.selectStrategy(ctx, msg.Chat.ID, strategyButtons[text])
	case text == btnStart || text == btnStop || text == btnConfigure:
		b.controlStrategy(ctx, msg.Chat.ID, text)
	case strings.HasPrefix(text, "/set"):
		b.configureStrategy(ctx, msg.Chat.ID, text)
	}
}

func (b *Bot) sendWelcome(ctx context.Context, chatID int64) {
	text := fmt.Sprintf("🤖 Welcome to the MT5 Trading Bot!\nServer Region: %s\n\nUse the buttons below to navigate:", b.region)
	b.send(ctx, chatID, text, mainMenu)
}

// sendBalance mirrors the account view: make sure a session exists, retry
// once after a short pause, then read the account.
func (b *Bot) sendBalance(ctx context.Context, chatID int64) {
	if !b.conn.EnsureConnection(ctx) {
		b.send(ctx, chatID, "❌ MT5 connection unavailable. Trying to reconnect...", nil)
		b.pause(ctx, b.reconnectPause)
		if !b.conn.Reconnect(ctx) {
			b.send(ctx, chatID, "⚠️ Failed to reconnect to MT5. Please check server status.", nil)
			return
		}
	}

	info, err := b.acct.AccountInfo(ctx)
	if err != nil {
		b.logger.Error("Failed to read account info", zap.Error(err))
		b.send(ctx, chatID, "❌ Failed to retrieve account information", nil)
		return
	}

	text := fmt.Sprintf(
		"💰 <b>Account Balance</b>\nBalance: $%.2f\nEquity: $%.2f\nUsed Margin: $%.2f\nFree Margin: $%.2f",
		info.Balance, info.Equity, info.Margin, info.MarginFree)
	b.send(ctx, chatID, text, nil)
}

func (b *Bot) sendStrategyMenu(ctx context.Context, chatID int64) {
	var sb strings.Builder
	sb.WriteString("📊 <b>Trading Strategies</b>\n")
	for _, st := range b.ctrl.Statuses() {
		sb.WriteString(fmt.Sprintf("• %s: %s\n", st.ID, stateLabel(st.State == strategy.StateRunning)))
	}
	sb.WriteString("\nChoose a strategy:")
	b.send(ctx, chatID, sb.String(), strategyMenu)
}

func (b *Bot) sendTerms(ctx context.Context, chatID int64) {
	text := "📜 <b>Terms & Conditions</b>\n" +
		"This bot drives automated strategies against a live MetaTrader 5 account. " +
		"Signals and trades are produced without human review and nothing the bot " +
		"reports is financial advice. Operate it only on accounts whose losses you " +
		"can absorb."
	b.send(ctx, chatID, text, nil)
}

func (b *Bot) sendSystemStatus(ctx context.Context, chatID int64) {
	snap := b.status.CurrentSnapshot(ctx)

	terminalState := "🔴 Disconnected"
	if snap.Connected {
		terminalState = "🟢 Connected"
	}
	latency := fmt.Sprintf("%.2f ms", snap.LatencyMS)
	if math.IsInf(snap.LatencyMS, 1) {
		latency = "unreachable"
	}

	text := fmt.Sprintf(
		"🖥️ <b>System Status</b>\nRegion: %s\nMT5 Status: %s\n\n<b>Resources:</b>\nCPU: %.1f%%\nMemory: %.1f%%\nDisk: %.1f%%\nNetwork Latency: %s",
		b.region, terminalState, snap.CPUPercent, snap.MemoryPercent, snap.DiskPercent, latency)
	b.send(ctx, chatID, text, nil)
}

func (b *Bot) selectStrategy(ctx context.Context, chatID int64, id string) {
	b.mu.Lock()
	b.selected[chatID] = id
	b.mu.Unlock()

	text := fmt.Sprintf("📌 Selected <b>%s</b>\nState: %s", id, stateLabel(b.ctrl.Running(id)))
	b.send(ctx, chatID, text, controlMenu)
}

func (b *Bot) controlStrategy(ctx context.Context, chatID int64, action string) {
	id := b.selection(chatID)
	if id == "" {
		b.send(ctx, chatID, "Please choose a strategy first.", strategyMenu)
		return
	}

	switch action {
	case btnStart:
		if err := b.ctrl.StartID(ctx, id); err != nil {
			b.logger.Error("Failed to start strategy", zap.String("strategy", id), zap.Error(err))
			b.send(ctx, chatID, fmt.Sprintf("❌ Failed to start <b>%s</b>.", id), nil)
			return
		}
		b.send(ctx, chatID, fmt.Sprintf("▶️ <b>%s</b> is now running.", id), controlMenu)
	case btnStop:
		err := b.ctrl.Stop(id)
		if errors.Is(err, orchestrator.ErrUnknownStrategy) {
			b.send(ctx, chatID, fmt.Sprintf("💤 <b>%s</b> is not running.", id), controlMenu)
			return
		}
		if err != nil {
			b.logger.Error("Failed to stop strategy", zap.String("strategy", id), zap.Error(err))
			b.send(ctx, chatID, fmt.Sprintf("❌ Failed to stop <b>%s</b>.", id), nil)
			return
		}
		b.send(ctx, chatID, fmt.Sprintf("⏹️ <b>%s</b> stopped.", id), controlMenu)
	case btnConfigure:
		cfg, err := b.ctrl.Config(id)
		if err != nil {
			b.send(ctx, chatID, fmt.Sprintf("💤 <b>%s</b> is not running. Start it before configuring.", id), controlMenu)
			return
		}
		b.send(ctx, chatID, configSummary(cfg)+"\n\n"+setUsage, nil)
	}
}

func (b *Bot) configureStrategy(ctx context.Context, chatID int64, text string) {
	id := b.selection(chatID)
	if id == "" {
		b.send(ctx, chatID, "Please choose a strategy first.", strategyMenu)
		return
	}

	patch, err := parsePatch(strings.Fields(text))
	if err != nil {
		b.send(ctx, chatID, fmt.Sprintf("❌ %s\n\n%s", err, setUsage), nil)
		return
	}

	merged, err := b.ctrl.UpdateConfig(id, patch)
	if err != nil {
		b.logger.Error("Failed to update strategy config", zap.String("strategy", id), zap.Error(err))
		b.send(ctx, chatID, fmt.Sprintf("❌ Failed to update <b>%s</b>: %s", id, err), nil)
		return
	}
	b.send(ctx, chatID, "✅ Updated.\n\n"+configSummary(merged), nil)
}

// parsePatch turns "/set field value..." tokens into a config patch.
func parsePatch(tokens []string) (strategy.Patch, error) {
	var p strategy.Patch
	if len(tokens) < 3 {
		return p, errors.New("missing field or value")
	}

	field, values := tokens[1], tokens[2:]
	switch field {
	case "cooldown", "check_interval":
		d, err := time.ParseDuration(values[0])
		if err != nil || d < 0 {
			return p, fmt.Errorf("'%s' is not a valid duration", values[0])
		}
		if field == "cooldown" {
			p.Cooldown = &d
		} else {
			p.CheckInterval = &d
		}
	case "lookback":
		n, err := strconv.Atoi(values[0])
		if err != nil || n <= 0 {
			return p, fmt.Errorf("'%s' is not a valid bar count", values[0])
		}
		p.LookbackBars = &n
	case "timeframe":
		tf, err := terminal.ParseTimeframe(values[0])
		if err != nil {
			return p, err
		}
		p.Timeframe = &tf
	case "symbols":
		symbols := strings.Split(values[0], ",")
		for i := range symbols {
			symbols[i] = strings.TrimSpace(symbols[i])
		}
		p.Symbols = symbols
	case "param":
		if len(values) < 2 {
			return p, errors.New("param needs a name and a value")
		}
		v, err := strconv.ParseFloat(values[1], 64)
		if err != nil {
			return p, fmt.Errorf("'%s' is not a number", values[1])
		}
		p.Params = map[string]float64{values[0]: v}
	default:
		return p, fmt.Errorf("unknown field '%s'", field)
	}
	return p, nil
}

func configSummary(cfg strategy.Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚙️ <b>%s</b>\n", cfg.ID)
	fmt.Fprintf(&sb, "Kind: %s\n", cfg.Kind)
	fmt.Fprintf(&sb, "Symbols: %s\n", strings.Join(cfg.Symbols, ", "))
	if cfg.Timeframe != "" {
		fmt.Fprintf(&sb, "Timeframe: %s\n", cfg.Timeframe)
	}
	fmt.Fprintf(&sb, "Cooldown: %s\n", cfg.Cooldown)
	fmt.Fprintf(&sb, "Check interval: %s\n", cfg.CheckInterval)
	if cfg.LookbackBars > 0 {
		fmt.Fprintf(&sb, "Lookback bars: %d\n", cfg.LookbackBars)
	}

	names := make([]string, 0, len(cfg.Params))
	for name := range cfg.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "Param %s: %g\n", name, cfg.Params[name])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func stateLabel(running bool) string {
	if running {
		return "🟢 Running"
	}
	return "⚪ Stopped"
}

func (b *Bot) selection(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected[chatID]
}

// Alert pushes an operator alert to the configured chat. Alerts are dropped
// when no chat id is configured.
func (b *Bot) Alert(ctx context.Context, text string) {
	if b.chatID == 0 {
		return
	}
	b.send(ctx, b.chatID, text, nil)
}

// send delivers one reply, logging failures instead of surfacing them so a
// lost message never takes the poll loop down.
func (b *Bot) send(ctx context.Context, chatID int64, text string, keyboard *ReplyKeyboardMarkup) {
	if err := b.api.SendMessage(ctx, chatID, text, keyboard); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) pause(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

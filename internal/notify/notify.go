package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// PayloadKind separates alert payloads from incident payloads.
// Params: alert or incident constants.
// Returns: kind marker carried on every outbound payload.
type PayloadKind string

const (
	// KindAlert marks rule-engine alert notifications.
	KindAlert PayloadKind = "alert"
	// KindIncident marks incident lifecycle notifications.
	KindIncident PayloadKind = "incident"
)

// Payload is the channel-independent outbound notification model.
// Params: kind, source identifiers, severity, and response context.
// Returns: single model rendered per channel by each sender.
type Payload struct {
	Kind              PayloadKind `json:"kind"`
	ID                string      `json:"id"`
	Severity          string      `json:"severity"`
	Type              string      `json:"type,omitempty"`
	Status            string      `json:"status,omitempty"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	AffectedContracts []string    `json:"affected_contracts,omitempty"`
	ExecutedActions   []string    `json:"executed_actions,omitempty"`
	PlannedActions    []string    `json:"planned_actions,omitempty"`
	Network           string      `json:"network"`
	Timestamp         time.Time   `json:"timestamp"`
}

// DeliveryResult records one channel delivery outcome.
// Params: channel key, success flag, and failure text.
// Returns: per-channel result list entry for callers and logs.
type DeliveryResult struct {
	Channel string
	OK      bool
	Error   string
}

// ChannelSender sends one payload to one channel.
// Params: context and outbound payload.
// Returns: transport error when the single attempt fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, payload Payload) error
}

// Dispatcher fans one payload out to every enabled channel.
// Params: sender list in deterministic order and logger.
// Returns: best-effort delivery surface; never fails the caller.
type Dispatcher struct {
	senders []ChannelSender
	logger  *slog.Logger
}

// NewDispatcher builds the dispatcher from enabled channel config.
// Params: notify config section, email send hook, and logger.
// Returns: dispatcher over all enabled channels sorted by channel key.
func NewDispatcher(cfg config.NotifyConfig, emailSend EmailSendFunc, logger *slog.Logger) *Dispatcher {
	var senders []ChannelSender
	if cfg.Chat.Enabled {
		senders = append(senders, NewChatSender(cfg.Chat))
	}
	if cfg.Webhook.Enabled {
		senders = append(senders, NewWebhookSender(cfg.Webhook))
	}
	if cfg.Email.Enabled {
		senders = append(senders, NewEmailSender(cfg.Email, emailSend))
	}
	if cfg.Telegram.Enabled {
		senders = append(senders, NewTelegramSender(cfg.Telegram))
	}
	sort.Slice(senders, func(i, j int) bool {
		return senders[i].Channel() < senders[j].Channel()
	})
	return &Dispatcher{senders: senders, logger: logger}
}

// Channels returns enabled channel keys.
// Params: none.
// Returns: deterministic channel list.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.senders))
	for _, sender := range d.senders {
		out = append(out, sender.Channel())
	}
	return out
}

// Dispatch sends one payload to every channel with one attempt each.
// Params: context and outbound payload.
// Returns: per-channel results; a failed channel never blocks the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(d.senders))
	for _, sender := range d.senders {
		err := sender.Send(ctx, payload)
		result := DeliveryResult{Channel: sender.Channel(), OK: err == nil}
		if err != nil {
			result.Error = err.Error()
			if d.logger != nil {
				d.logger.Warn("notification delivery failed",
					"channel", sender.Channel(), "payload", payload.ID, "error", err.Error())
			}
		} else if d.logger != nil {
			d.logger.Info("notification delivered",
				"channel", sender.Channel(), "payload", payload.ID)
		}
		results = append(results, result)
	}
	return results
}

// AlertPayload converts one fired alert into the outbound model.
// Params: alert and network label.
// Returns: payload ready for dispatch.
func AlertPayload(alert domain.Alert, network string) Payload {
	payload := Payload{
		Kind:        KindAlert,
		ID:          alert.ID,
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
		Network:     network,
		Timestamp:   alert.Timestamp,
	}
	if alert.Contract != "" {
		payload.AffectedContracts = []string{alert.Contract}
	}
	return payload
}

// IncidentPayload converts one incident snapshot into the outbound model.
// Params: incident snapshot and network label.
// Returns: payload with executed and planned action summaries.
func IncidentPayload(incident domain.Incident, network string) Payload {
	payload := Payload{
		Kind:              KindIncident,
		ID:                incident.ID,
		Severity:          string(incident.Severity),
		Type:              string(incident.Type),
		Status:            string(incident.Status),
		Title:             fmt.Sprintf("Incident %s (%s)", incident.Type, incident.Severity),
		Description:       incident.Description,
		AffectedContracts: append([]string(nil), incident.AffectedContracts...),
		Network:           network,
		Timestamp:         incident.Timestamp,
	}
	for _, action := range incident.ResponseActions {
		summary := fmt.Sprintf("%s: %s", action.Type, action.Result)
		if action.Executed {
			payload.ExecutedActions = append(payload.ExecutedActions, summary)
		} else {
			payload.PlannedActions = append(payload.PlannedActions, string(action.Type))
		}
	}
	return payload
}

// ChatSender posts severity-colored messages to a chat webhook.
// Params: webhook URL, channel label, and timeout.
// Returns: chat channel sender.
type ChatSender struct {
	cfg    config.ChatNotifier
	client *http.Client
}

// NewChatSender creates the chat webhook sender.
// Params: chat notifier config.
// Returns: initialized sender.
func NewChatSender(cfg config.ChatNotifier) *ChatSender {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &ChatSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *ChatSender) Channel() string {
	return "chat"
}

// Send posts one colored chat message to the webhook.
// Params: context and outbound payload.
// Returns: transport or HTTP status error.
func (s *ChatSender) Send(ctx context.Context, payload Payload) error {
	message := struct {
		Channel   string `json:"channel"`
		Color     string `json:"color"`
		Text      string `json:"text"`
		Timestamp string `json:"timestamp"`
	}{
		Channel:   s.cfg.Channel,
		Color:     severityColor(payload.Severity),
		Text:      formatText(payload),
		Timestamp: payload.Timestamp.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode chat payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("chat send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("chat", response)
	}
	return nil
}

// WebhookSender posts the full payload to a generic HTTP endpoint.
// Params: URL, method, caller headers, and timeout.
// Returns: generic webhook sender.
type WebhookSender struct {
	cfg    config.WebhookNotifier
	client *http.Client
}

// NewWebhookSender creates the generic webhook sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Channel() string {
	return "webhook"
}

// Send delivers the JSON envelope to the configured endpoint.
// Params: context and outbound payload.
// Returns: transport or HTTP status error.
func (s *WebhookSender) Send(ctx context.Context, payload Payload) error {
	envelope := struct {
		Type      string  `json:"type"`
		Payload   Payload `json:"payload"`
		Timestamp string  `json:"timestamp"`
	}{
		Type:      string(payload.Kind),
		Payload:   payload,
		Timestamp: payload.Timestamp.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("webhook", response)
	}
	return nil
}

// EmailSendFunc abstracts the SMTP submission call.
// Params: SMTP address, sender, recipients, and raw message.
// Returns: submission error.
type EmailSendFunc func(addr, from string, to []string, message []byte) error

// SMTPSend submits one message over plain SMTP.
// Params: SMTP address, sender, recipients, and raw message.
// Returns: submission error.
func SMTPSend(addr, from string, to []string, message []byte) error {
	return smtp.SendMail(addr, nil, from, to, message)
}

// EmailSender formats payloads as plain-text email.
// Params: from/to addresses, SMTP endpoint, and send hook.
// Returns: email channel sender.
type EmailSender struct {
	cfg  config.EmailNotifier
	send EmailSendFunc
}

// NewEmailSender creates the email sender with injectable transport.
// Params: email notifier config and send hook (nil uses SMTPSend).
// Returns: initialized sender.
func NewEmailSender(cfg config.EmailNotifier, send EmailSendFunc) *EmailSender {
	if send == nil {
		send = SMTPSend
	}
	return &EmailSender{cfg: cfg, send: send}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *EmailSender) Channel() string {
	return "email"
}

// Send submits one formatted message through the send hook.
// Params: context and outbound payload.
// Returns: submission error.
func (s *EmailSender) Send(ctx context.Context, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var message bytes.Buffer
	fmt.Fprintf(&message, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&message, "Subject: [%s] %s\r\n", strings.ToUpper(payload.Severity), payload.Title)
	message.WriteString("\r\n")
	message.WriteString(formatText(payload))
	message.WriteString("\r\n")

	if err := s.send(s.cfg.SMTPAddr, s.cfg.From, s.cfg.To, message.Bytes()); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

// TelegramSender posts payloads to the Telegram Bot API.
// Params: bot token, chat id, and optional API base.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates the Telegram sender.
// Params: telegram notifier config.
// Returns: initialized sender; init errors surface on first Send.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{chatID: normalizeChatID(cfg.ChatID)}
	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("telegram bot token is required")
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = errors.New("telegram chat_id is required")
		return sender
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")))
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Channel() string {
	return "telegram"
}

// Send posts one message to the configured chat.
// Params: context and outbound payload.
// Returns: transport or API error.
func (s *TelegramSender) Send(ctx context.Context, payload Payload) error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.client == nil {
		return errors.New("telegram client is not initialized")
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      formatText(payload),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps others as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// formatText renders the shared plain-text body used by text channels.
// Params: outbound payload.
// Returns: multi-line message text.
func formatText(payload Payload) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "[%s] %s\n%s", strings.ToUpper(payload.Severity), payload.Title, payload.Description)
	if len(payload.AffectedContracts) > 0 {
		fmt.Fprintf(&builder, "\nContracts: %s", strings.Join(payload.AffectedContracts, ", "))
	}
	if len(payload.ExecutedActions) > 0 {
		fmt.Fprintf(&builder, "\nActions: %s", strings.Join(payload.ExecutedActions, "; "))
	}
	if payload.Status != "" {
		fmt.Fprintf(&builder, "\nStatus: %s", payload.Status)
	}
	fmt.Fprintf(&builder, "\nNetwork: %s", payload.Network)
	return builder.String()
}

// severityColor maps payload severity to a display color.
// Params: severity label.
// Returns: hex color for chat attachments.
func severityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "#d00000"
	case "warning":
		return "#f5a623"
	default:
		return "#2e86de"
	}
}

// unexpectedHTTPStatusError formats non-2xx HTTP responses with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}

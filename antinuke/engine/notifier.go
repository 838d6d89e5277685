package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/outcomestore"
	"github.com/guildwarden/warden/antinuke/platform"
	"github.com/guildwarden/warden/antinuke/setstore"
	"github.com/guildwarden/warden/util"

	"github.com/hashicorp/go-multierror"
)

// Interface for a type that can handle sending notifications
type Notifier interface {
	NotifyOutcome(ctx context.Context, o *ActionOutcome) error
	NotifyText(ctx context.Context, msg string) error
}

// Fans out to every configured notifier, aggregating failures.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyOutcome(ctx context.Context, o *ActionOutcome) error {
	var result *multierror.Error
	for _, n := range m {
		if err := n.NotifyOutcome(ctx, o); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m MultiNotifier) NotifyText(ctx context.Context, msg string) error {
	var result *multierror.Error
	for _, n := range m {
		if err := n.NotifyText(ctx, msg); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func outcomeTitle(o *ActionOutcome) string {
	switch o.Status {
	case outcomestore.StatusPunished:
		return "⚠️ Anti-Nuke: actor punished"
	case outcomestore.StatusLogOnly:
		return "⚠️ Anti-Nuke: threshold breached (log only)"
	case outcomestore.StatusRecovered:
		return "Anti-Nuke: deleted entity recovered"
	case outcomestore.StatusCapabilityDenied:
		return "❌ Anti-Nuke: missing permission to punish"
	case outcomestore.StatusHierarchy:
		return "❌ Anti-Nuke: actor out-ranks this bot"
	case outcomestore.StatusPunishFailed:
		return "❌ Anti-Nuke: punishment failed"
	default:
		return fmt.Sprintf("Anti-Nuke: %s", o.Status)
	}
}

func outcomeText(o *ActionOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", outcomeTitle(o))
	fmt.Fprintf(&b, "Server: `%s`\nActor: <@%s> (`%s`)\nAction: `%s`", o.ServerID, o.ActorID, o.ActorID, o.Kind)
	if o.Threshold > 0 {
		fmt.Fprintf(&b, " (%d/%d)", o.Count, o.Threshold)
	}
	b.WriteString("\n")
	if o.Punished {
		fmt.Fprintf(&b, "Punishment: `%s`\n", o.PunishMode)
	}
	if o.ReversalAttempted {
		if o.ReversalSucceeded {
			b.WriteString("Reversal: succeeded\n")
		} else {
			b.WriteString("Reversal: failed\n")
		}
	}
	if o.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", o.Detail)
	}
	return b.String()
}

// Posts outcomes to a chat-platform incoming webhook, as embeds.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
	Logger     *slog.Logger
}

func NewWebhookNotifier(logger *slog.Logger, webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		WebhookURL: webhookURL,
		Client:     util.NewWebhookClient(logger, util.DefaultWebhookClientOptions),
		Logger:     logger,
	}
}

type webhookEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type webhookEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []webhookEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type WebhookBody struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []webhookEmbed `json:"embeds,omitempty"`
}

const (
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorGreen  = 0x2ECC71
)

func outcomeEmbed(o *ActionOutcome) webhookEmbed {
	color := colorOrange
	switch o.Status {
	case outcomestore.StatusPunished, outcomestore.StatusRecovered:
		color = colorGreen
	case outcomestore.StatusCapabilityDenied, outcomestore.StatusPunishFailed, outcomestore.StatusHierarchy:
		color = colorRed
	}
	fields := []webhookEmbedField{
		{Name: "Server", Value: o.ServerID, Inline: true},
		{Name: "Actor", Value: fmt.Sprintf("<@%s>", o.ActorID), Inline: true},
		{Name: "Action", Value: o.Kind, Inline: true},
		{Name: "Status", Value: string(o.Status), Inline: true},
	}
	if o.Threshold > 0 {
		fields = append(fields, webhookEmbedField{Name: "Count", Value: fmt.Sprintf("%d/%d", o.Count, o.Threshold), Inline: true})
	}
	if o.ReversalAttempted {
		fields = append(fields, webhookEmbedField{Name: "Reversal", Value: fmt.Sprintf("%t", o.ReversalSucceeded), Inline: true})
	}
	if o.Detail != "" {
		fields = append(fields, webhookEmbedField{Name: "Detail", Value: o.Detail})
	}
	ts := o.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return webhookEmbed{
		Title:     outcomeTitle(o),
		Color:     color,
		Fields:    fields,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

func (n *WebhookNotifier) NotifyOutcome(ctx context.Context, o *ActionOutcome) error {
	return n.send(ctx, WebhookBody{Username: "Warden", Embeds: []webhookEmbed{outcomeEmbed(o)}})
}

func (n *WebhookNotifier) NotifyText(ctx context.Context, msg string) error {
	return n.send(ctx, WebhookBody{Username: "Warden", Content: msg})
}

// Sends one message via "incoming webhook". The webhook must already be configured on the platform.
func (n *WebhookNotifier) send(ctx context.Context, msg WebhookBody) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

// Direct-messages every configured owner. Messages are dispatched on per-recipient routes.
type OwnerDMNotifier struct {
	Client     platform.Client
	Dispatcher *dispatch.Dispatcher
	Sets       setstore.SetStore
}

func (n *OwnerDMNotifier) NotifyOutcome(ctx context.Context, o *ActionOutcome) error {
	switch o.Status {
	case outcomestore.StatusPunished, outcomestore.StatusPunishFailed, outcomestore.StatusCapabilityDenied, outcomestore.StatusHierarchy, outcomestore.StatusQuota:
	default:
		return nil
	}
	return n.NotifyText(ctx, outcomeText(o))
}

func (n *OwnerDMNotifier) NotifyText(ctx context.Context, msg string) error {
	owners, err := n.Sets.Members(ctx, setstore.SetOwners)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, owner := range owners {
		owner := owner
		err := n.Dispatcher.Execute(ctx, "dm/"+owner, func(ctx context.Context) error {
			return n.Client.SendDirectMessage(ctx, owner, msg)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("messaging owner %s: %w", owner, err))
		}
	}
	return result.ErrorOrNil()
}

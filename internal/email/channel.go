package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/notify"
)

// Channel sends alert emails and the weekly digest through Postmark.
type Channel struct {
	client  *Client
	printer *message.Printer
}

func NewChannel(client *Client) *Channel {
	return &Channel{client: client, printer: message.NewPrinter(language.English)}
}

func (c *Channel) Name() string { return "email" }

func (c *Channel) Enabled(u model.User) bool {
	return u.Preferences.EmailNotificationsEnabled
}

func (c *Channel) Send(ctx context.Context, u model.User, msg notify.Message) error {
	if u.Email == "" {
		return notify.ErrNoRecipient
	}
	link := c.client.baseURL + msg.URL
	text := fmt.Sprintf("Hi %s,\n\n%s\n\n%s\n\nView your notifications: %s\n", u.DisplayName(), msg.Title, msg.Body, link)

	var html bytes.Buffer
	err := alertHTML.Execute(&html, map[string]string{
		"Name":  u.DisplayName(),
		"Title": msg.Title,
		"Body":  msg.Body,
		"Link":  link,
	})
	if err != nil {
		return fmt.Errorf("render alert email: %w", err)
	}
	return c.send(ctx, Email{
		To:       u.Email,
		Subject:  msg.Title,
		TextBody: text,
		HTMLBody: html.String(),
		Tag:      string(msg.Notification.Type),
	})
}

// SendDigest emails the weekly summary.
func (c *Channel) SendDigest(ctx context.Context, u model.User, d notify.Digest) error {
	if u.Email == "" {
		return notify.ErrNoRecipient
	}
	view := c.digestView(u, d)

	var text, html bytes.Buffer
	if err := digestText.Execute(&text, view); err != nil {
		return fmt.Errorf("render digest text: %w", err)
	}
	if err := digestHTML.Execute(&html, view); err != nil {
		return fmt.Errorf("render digest html: %w", err)
	}
	return c.send(ctx, Email{
		To:       u.Email,
		Subject:  fmt.Sprintf("Your pantry digest for %s to %s", view.Start, view.End),
		TextBody: text.String(),
		HTMLBody: html.String(),
		Tag:      "digest",
	})
}

func (c *Channel) send(ctx context.Context, e Email) error {
	err := c.client.Send(ctx, e)
	if errors.Is(err, ErrNotConfigured) {
		return fmt.Errorf("%w: %v", notify.ErrChannelDisabled, err)
	}
	return err
}

type digestView struct {
	Name       string
	Start      string
	End        string
	Alerts     int
	Items      []string
	Spent      string
	Bought     int
	Wasted     int
	WasteValue string
	WastePct   string
	TopSpend   string
	Link       string
}

func (c *Channel) digestView(u model.User, d notify.Digest) digestView {
	v := digestView{
		Name:   u.DisplayName(),
		Start:  d.PeriodStart.Format("Jan 2"),
		End:    d.PeriodEnd.Format("Jan 2"),
		Alerts: len(d.Notifications),
		Items:  d.Items,
		Link:   c.client.baseURL + "/notifications",
	}
	if d.Expense != nil {
		v.Spent = c.printer.Sprintf("%.2f", d.Expense.Totals.Expense)
		v.Bought = d.Expense.Totals.ItemCount
		if len(d.Expense.Categories) > 0 {
			top := d.Expense.Categories[0]
			for _, cat := range d.Expense.Categories[1:] {
				if cat.Total > top.Total {
					top = cat
				}
			}
			v.TopSpend = c.printer.Sprintf("%s (%.2f)", top.Category, top.Total)
		}
	}
	if d.Waste != nil {
		v.Wasted = d.Waste.Totals.WastedCount
		v.WasteValue = c.printer.Sprintf("%.2f", d.Waste.Totals.WasteValue)
		v.WastePct = c.printer.Sprintf("%.1f%%", d.Waste.Totals.WastePercentage)
	}
	return v
}

var alertHTML = htmltemplate.Must(htmltemplate.New("alert").Parse(
	`<p>Hi {{.Name}},</p><p><strong>{{.Title}}</strong></p><p>{{.Body}}</p><p><a href="{{.Link}}">View your notifications</a></p>`))

var digestFuncs = texttemplate.FuncMap{"join": strings.Join}

var digestText = texttemplate.Must(texttemplate.New("digest").Funcs(digestFuncs).Parse(`Hi {{.Name}},

Here is your pantry for {{.Start}} to {{.End}}.

Alerts: {{.Alerts}}
{{- if .Items}}
Items that needed attention: {{join .Items ", "}}
{{- end}}
Bought: {{.Bought}} items for {{.Spent}}
{{- if .TopSpend}}
Top category: {{.TopSpend}}
{{- end}}
Wasted: {{.Wasted}} items worth {{.WasteValue}} ({{.WastePct}})

See everything at {{.Link}}
`))

var digestHTML = htmltemplate.Must(htmltemplate.New("digest").Parse(
	`<p>Hi {{.Name}},</p>
<p>Here is your pantry for {{.Start}} to {{.End}}.</p>
<ul>
<li>Alerts: {{.Alerts}}</li>
{{if .Items}}<li>Items that needed attention:<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul></li>{{end}}
<li>Bought: {{.Bought}} items for {{.Spent}}</li>
{{if .TopSpend}}<li>Top category: {{.TopSpend}}</li>{{end}}
<li>Wasted: {{.Wasted}} items worth {{.WasteValue}} ({{.WastePct}})</li>
</ul>
<p><a href="{{.Link}}">Open freshkeep</a></p>`))

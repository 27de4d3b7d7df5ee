// Package email delivers magic-link messages.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

// Sender delivers a sign-in link to one address.
type Sender interface {
	SendMagicLink(ctx context.Context, to, link string, ttl time.Duration) error
}

const magicLinkSubject = "Your sign-in link"

var magicLinkHTML = template.Must(template.New("magic_link").Parse(`<h1>Sign in</h1>
<p>Click the link below to sign in to {{.App}}:</p>
<p><a href="{{.Link}}">Sign in</a></p>
<p>This link expires in {{.Minutes}} minutes.</p>
<p>If you didn't request this email, you can safely ignore it.</p>
`))

type Message struct {
	Subject string
	HTML    string
	Text    string
}

func magicLinkMessage(appName, link string, ttl time.Duration) (*Message, error) {
	minutes := int(ttl.Minutes())
	buf := bytes.NewBuffer(nil)
	err := magicLinkHTML.Execute(buf, struct {
		App     string
		Link    string
		Minutes int
	}{App: appName, Link: link, Minutes: minutes})
	if err != nil {
		return nil, fmt.Errorf("rendering magic link email: %w", err)
	}

	text := fmt.Sprintf(`Hello!

Open this link to sign in to %s:

    %s

This link expires in %d minutes.

If you didn't request this email, you can safely ignore it.`, appName, link, minutes)

	return &Message{Subject: magicLinkSubject, HTML: buf.String(), Text: text}, nil
}

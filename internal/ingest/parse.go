package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// parsed is the subset of an RFC 822 message kept in the store.
type parsed struct {
	From    string
	Subject string
	Body    string
}

// parseMessage extracts From, Subject and a plain-text body from raw. From
// is the bare address when the header parses, otherwise the header as sent.
// The first text/plain part wins; without one the first text/html part is
// stripped of markup.
func parseMessage(raw []byte) (parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return parsed{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var p parsed
	p.From = fromAddress(mr.Header)
	if subject, err := mr.Header.Subject(); err == nil {
		p.Subject = subject
	} else {
		p.Subject = mr.Header.Get("Subject")
	}

	var text, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return parsed{}, fmt.Errorf("read part: %w", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case text == "" && strings.HasPrefix(contentType, "text/plain"):
			text = string(body)
		case html == "" && strings.HasPrefix(contentType, "text/html"):
			html = string(body)
		}
	}

	switch {
	case text != "":
		p.Body = text
	case html != "":
		p.Body = strings.TrimSpace(stripPolicy.Sanitize(html))
	}
	return p, nil
}

func fromAddress(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return h.Get("From")
}

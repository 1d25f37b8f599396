package mbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"net/textproto"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mbox-contacts/model"
)

var errNoHeader = errors.New("message has no header fields")

var (
	htmlBreakRe   = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li)\s*/?>`)
	htmlTagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlScriptRe  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	looseEmailRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-']+@[A-Za-z0-9.\-]+`)
	addressHeader = []string{"From", "Reply-To", "To", "Cc"}
)

// textDecoder turns raw text bytes into UTF-8: valid UTF-8 is kept, anything
// else is read with the archive default charset, and as a last resort
// invalid bytes are replaced with U+FFFD.
type textDecoder struct {
	defaultCharset string
}

func (d textDecoder) decode(b []byte) (string, bool) {
	if utf8.Valid(b) {
		return string(b), false
	}
	if d.defaultCharset != "" {
		if r, err := charset.Reader(d.defaultCharset, bytes.NewReader(b)); err == nil {
			if out, err := io.ReadAll(r); err == nil && utf8.Valid(out) {
				return string(out), true
			}
		}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), true
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// decodeMessage parses one raw RFC 5322 message into a model.Message.
func decodeMessage(raw []byte, dec textDecoder) (model.Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isRecoverable(err) {
		return model.Message{}, fmt.Errorf("parse: %w", err)
	}
	if entity == nil {
		return model.Message{}, fmt.Errorf("parse: empty entity")
	}

	msg := model.Message{
		Header: make(map[string][]string),
		Size:   int64(len(raw)),
	}
	if err != nil {
		msg.Recovered = true
	}

	fields := entity.Header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		value, textErr := fields.Text()
		if textErr != nil {
			value = fields.Value()
			msg.Recovered = true
		}
		text, recovered := dec.decode([]byte(value))
		msg.Recovered = msg.Recovered || recovered
		msg.Header[key] = append(msg.Header[key], text)
	}
	if len(msg.Header) == 0 {
		return model.Message{}, errNoHeader
	}

	header := mail.Header{Header: entity.Header}
	for _, key := range addressHeader {
		addrs := parseAddresses(header, key, msg.Header[key], dec)
		switch key {
		case "From":
			msg.From = addrs
		case "Reply-To":
			msg.ReplyTo = addrs
		case "To":
			msg.To = addrs
		case "Cc":
			msg.Cc = addrs
		}
	}

	if subject, err := header.Subject(); err == nil {
		msg.Subject, _ = dec.decode([]byte(subject))
	} else if values := msg.Header["Subject"]; len(values) > 0 {
		msg.Subject = values[0]
	}
	if date, err := header.Date(); err == nil {
		msg.ReceivedAt = date
	}

	id := strings.TrimSpace(header.Get("Message-Id"))
	msg.ID = strings.Trim(id, " <>")

	sum := sha256.Sum256(raw)
	msg.Hash = base64.StdEncoding.EncodeToString(sum[:])

	body, bodyCharset, recovered, err := readBody(entity, dec)
	if err != nil {
		return model.Message{}, fmt.Errorf("body: %w", err)
	}
	msg.Body = body
	msg.Charset = bodyCharset
	msg.Recovered = msg.Recovered || recovered

	return msg, nil
}

func parseAddresses(header mail.Header, key string, decoded []string, dec textDecoder) []model.Address {
	if len(decoded) == 0 {
		return nil
	}

	list, err := header.AddressList(key)
	if err == nil {
		out := make([]model.Address, 0, len(list))
		for _, a := range list {
			name, _ := dec.decode([]byte(a.Name))
			out = append(out, model.Address{Name: strings.TrimSpace(name), Email: strings.TrimSpace(a.Address)})
		}
		return out
	}

	// Malformed lists still carry usable addresses.
	var out []model.Address
	for _, value := range decoded {
		for _, email := range looseEmailRe.FindAllString(value, -1) {
			out = append(out, model.Address{Email: email})
		}
	}
	return out
}

// readBody collects the plain-text parts of the entity. HTML is used only
// when the message has no plain-text part.
func readBody(entity *message.Entity, dec textDecoder) (string, string, bool, error) {
	var (
		plain     []string
		htmlText  string
		charsetID string
		recovered bool
	)

	err := entity.Walk(func(path []int, part *message.Entity, walkErr error) error {
		if walkErr != nil && !isRecoverable(walkErr) {
			return walkErr
		}

		mediaType, params, ctErr := part.Header.ContentType()
		if ctErr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}
		if disp, _, _ := part.Header.ContentDisposition(); disp == "attachment" {
			return nil
		}
		if mediaType != "text/plain" && mediaType != "text/html" {
			return nil
		}
		if mediaType == "text/html" && htmlText != "" {
			return nil
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("read part %v: %w", path, err)
		}

		text, fallback := dec.decode(data)
		if walkErr != nil || fallback {
			recovered = true
		}
		if charsetID == "" {
			charsetID = strings.ToLower(params["charset"])
		}

		if mediaType == "text/html" {
			htmlText = stripHTML(text)
			return nil
		}
		plain = append(plain, text)
		return nil
	})
	if err != nil {
		return "", "", false, err
	}

	body := strings.Join(plain, "\n")
	if len(plain) == 0 {
		body = htmlText
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return body, charsetID, recovered, nil
}

func stripHTML(s string) string {
	s = htmlScriptRe.ReplaceAllString(s, "")
	s = htmlBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

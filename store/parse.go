package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/k3a/html2text"

	"github.com/dhcgn/mailsort/model"
)

var (
	ErrMissingID       = errors.New("missing Message-ID header")
	ErrMultipleIDs     = errors.New("multiple Message-ID headers and none are preferred")
	ErrMultipleReplyTo = errors.New("multiple In-Reply-To headers")
)

// ReadMessage reads and parses the mail file at path.
func ReadMessage(path string, origin model.Origin, prefer map[string]struct{}) (*model.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mail file: %w", err)
	}
	return ParseMessage(raw, path, origin, prefer)
}

// ParseMessage parses raw into a Message. When a message carries several
// Message-ID headers, the one listed in prefer is used.
func ParseMessage(raw []byte, path string, origin model.Origin, prefer map[string]struct{}) (*model.Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	header := make(map[string][]string)
	fields := entity.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		key := strings.ToLower(fields.Key())
		header[key] = append(header[key], strings.TrimSpace(value))
	}

	id, err := messageID(header["message-id"], prefer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var parent string
	switch replies := header["in-reply-to"]; len(replies) {
	case 0:
	case 1:
		parent = NormalizeID(replies[0])
	default:
		return nil, fmt.Errorf("%s has %d In-Reply-To headers: %w", path, len(replies), ErrMultipleReplyTo)
	}

	body, err := flattenBody(entity)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", path, err)
	}

	return &model.Message{
		ID:        id,
		Parent:    parent,
		Origin:    origin,
		Path:      path,
		StorageID: StorageID(path),
		Header:    header,
		Body:      body,
		Raw:       raw,
	}, nil
}

func messageID(values []string, prefer map[string]struct{}) (string, error) {
	var id string
	switch len(values) {
	case 0:
		return "", ErrMissingID
	case 1:
		id = values[0]
	default:
		for _, v := range values {
			if _, ok := prefer[v]; ok {
				id = v
				break
			}
		}
		if id == "" {
			return "", fmt.Errorf("%d headers: %w", len(values), ErrMultipleIDs)
		}
	}
	id = NormalizeID(id)
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

// NormalizeID returns the first angle-bracketed token of a Message-ID or
// In-Reply-To value, brackets included. Values without brackets are only
// trimmed.
func NormalizeID(value string) string {
	if start := strings.IndexByte(value, '<'); start >= 0 {
		if end := strings.IndexByte(value[start:], '>'); end >= 0 {
			return value[start : start+end+1]
		}
	}
	return strings.TrimSpace(value)
}

// flattenBody concatenates the decoded text parts of a message. HTML parts
// are converted to plain text; other media types are skipped.
func flattenBody(entity *message.Entity) (string, error) {
	var b strings.Builder
	err := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return err
		}
		mediaType, _, _ := part.Header.ContentType()
		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			return nil
		case mediaType == "", strings.HasPrefix(mediaType, "text/"):
		default:
			return nil
		}

		content, err := io.ReadAll(part.Body)
		if err != nil && !tolerable(err) {
			return err
		}
		text := string(content)
		if mediaType == "text/html" {
			text = html2text.HTML2Text(text)
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

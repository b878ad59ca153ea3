package recognition

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultMIME = "image/jpeg"

// Image is one decoded capture handed to a provider.
type Image struct {
	ID   string // capture record id
	MIME string
	Data []byte
}

// Base64 returns the payload in standard encoding.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the payload as a data URI.
func (i Image) DataURI() string {
	return "data:" + i.MIME + ";base64," + i.Base64()
}

// DecodeImage accepts either raw base64 or a data URI.
func DecodeImage(id, payload string) (Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Image{}, fmt.Errorf("%w: capture %s has no image", ErrInvalidImage, id)
	}

	mime := defaultMIME
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return Image{}, fmt.Errorf("%w: capture %s has a malformed data URI", ErrInvalidImage, id)
		}
		if m := strings.TrimSuffix(header, ";base64"); m != "" {
			mime = m
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Image{}, fmt.Errorf("%w: capture %s: %w", ErrInvalidImage, id, err)
		}
	}
	return Image{ID: id, MIME: mime, Data: data}, nil
}

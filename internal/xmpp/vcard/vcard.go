// Package vcard models the vcard-temp record (XEP-0054) the engine keeps
// in sync with the server.
package vcard

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Card is a vcard-temp record. Only the fields the engine manages are
// present; unknown server-side fields are not round-tripped.
type Card struct {
	XMLName  xml.Name `xml:"vcard-temp vCard"`
	FN       string   `xml:"FN,omitempty"`
	Nickname string   `xml:"NICKNAME,omitempty"`
	URL      string   `xml:"URL,omitempty"`
	Desc     string   `xml:"DESC,omitempty"`
	Photo    *Photo   `xml:"PHOTO,omitempty"`
}

// Photo is the avatar element. Either an external URI or inline base64
// data with a MIME type.
type Photo struct {
	Type   string `xml:"TYPE,omitempty"`
	BinVal string `xml:"BINVAL,omitempty"`
	ExtVal string `xml:"EXTVAL,omitempty"`
}

// Empty reports whether the card carries no data.
func (c *Card) Empty() bool {
	if c == nil {
		return true
	}
	return c.FN == "" && c.Nickname == "" && c.URL == "" && c.Desc == "" && c.Photo == nil
}

// Fields lists the settable field names.
func Fields() []string {
	return []string{"fn", "nickname", "url", "desc", "avatar-url"}
}

// Set assigns a single named field on the card. Field names are
// case-insensitive; unknown names are an error.
func (c *Card) Set(field, value string) error {
	switch strings.ToLower(field) {
	case "fn":
		c.FN = value
	case "nickname":
		c.Nickname = value
	case "url":
		c.URL = value
	case "desc":
		c.Desc = value
	case "avatar-url":
		if c.Photo == nil {
			c.Photo = &Photo{}
		}
		c.Photo.ExtVal = value
	default:
		return fmt.Errorf("unknown vCard field %q", field)
	}
	return nil
}

// Get returns a single named field, or an error for unknown names.
func (c *Card) Get(field string) (string, error) {
	switch strings.ToLower(field) {
	case "fn":
		return c.FN, nil
	case "nickname":
		return c.Nickname, nil
	case "url":
		return c.URL, nil
	case "desc":
		return c.Desc, nil
	case "avatar-url":
		if c.Photo == nil {
			return "", nil
		}
		return c.Photo.ExtVal, nil
	default:
		return "", fmt.Errorf("unknown vCard field %q", field)
	}
}

// String renders the card for in-band command replies.
func (c *Card) String() string {
	if c.Empty() {
		return "(empty vCard)"
	}
	var b strings.Builder
	if c.FN != "" {
		fmt.Fprintf(&b, "fn: %s\n", c.FN)
	}
	if c.Nickname != "" {
		fmt.Fprintf(&b, "nickname: %s\n", c.Nickname)
	}
	if c.URL != "" {
		fmt.Fprintf(&b, "url: %s\n", c.URL)
	}
	if c.Desc != "" {
		fmt.Fprintf(&b, "desc: %s\n", c.Desc)
	}
	if c.Photo != nil && c.Photo.ExtVal != "" {
		fmt.Fprintf(&b, "avatar-url: %s\n", c.Photo.ExtVal)
	}
	return strings.TrimRight(b.String(), "\n")
}

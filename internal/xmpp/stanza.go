package xmpp

import (
	"encoding/xml"

	"mellium.im/xmpp/stanza"

	"github.com/meszmate/xmppgate/internal/xmpp/vcard"
)

// Stanza is one top-level protocol unit read off the stream.
type Stanza interface {
	stanzaKind() string
}

func (m *Message) stanzaKind() string  { return "message" }
func (p *Presence) stanzaKind() string { return "presence" }
func (iq *IQ) stanzaKind() string      { return "iq" }

// Message is a message stanza with the child elements the engine consumes.
type Message struct {
	XMLName xml.Name `xml:"message"`
	ID      string   `xml:"id,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`

	Subject string `xml:"subject,omitempty"`
	Body    string `xml:"body,omitempty"`
	Thread  string `xml:"thread,omitempty"`

	// OOB is a jabber:x:oob attachment reference.
	OOB *OOB `xml:"jabber:x:oob x,omitempty"`

	// MUCUser carries mediated invites and declines.
	MUCUser *MUCUser `xml:"http://jabber.org/protocol/muc#user x,omitempty"`

	// Error is present on type="error" bounces.
	Error *stanza.Error `xml:"error,omitempty"`
}

// OOB is an out-of-band URL reference (XEP-0066).
type OOB struct {
	URL  string `xml:"url"`
	Desc string `xml:"desc,omitempty"`
}

// Presence is a presence stanza with the child elements the engine consumes.
type Presence struct {
	XMLName xml.Name `xml:"presence"`
	ID      string   `xml:"id,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`

	Show   string `xml:"show,omitempty"`
	Status string `xml:"status,omitempty"`

	// MUC is only set on outbound room joins.
	MUC *MUCJoin `xml:"http://jabber.org/protocol/muc x,omitempty"`

	// MUCUser carries occupant items and status codes on room presence.
	MUCUser *MUCUser `xml:"http://jabber.org/protocol/muc#user x,omitempty"`
}

// MUCJoin is the muc namespace element sent when entering a room.
type MUCJoin struct {
	History  *MUCHistory `xml:"history,omitempty"`
	Password string      `xml:"password,omitempty"`
}

// MUCHistory limits the history a room replays on join.
type MUCHistory struct {
	MaxStanzas int `xml:"maxstanzas,attr"`
}

// MUCUser is the muc#user extension on room presence and invite messages.
type MUCUser struct {
	Item    *MUCItem    `xml:"item,omitempty"`
	Status  []MUCStatus `xml:"status,omitempty"`
	Invite  *MUCInvite  `xml:"invite,omitempty"`
	Decline *MUCDecline `xml:"decline,omitempty"`
}

// MUCItem describes an occupant.
type MUCItem struct {
	Affiliation string `xml:"affiliation,attr,omitempty"`
	Role        string `xml:"role,attr,omitempty"`
	JID         string `xml:"jid,attr,omitempty"`
	Nick        string `xml:"nick,attr,omitempty"`
}

// MUCStatus is a numeric room status code.
type MUCStatus struct {
	Code int `xml:"code,attr"`
}

// MUCInvite is a mediated room invite.
type MUCInvite struct {
	From   string `xml:"from,attr,omitempty"`
	To     string `xml:"to,attr,omitempty"`
	Reason string `xml:"reason,omitempty"`
}

// MUCDecline is a declined mediated invite.
type MUCDecline struct {
	From   string `xml:"from,attr,omitempty"`
	To     string `xml:"to,attr,omitempty"`
	Reason string `xml:"reason,omitempty"`
}

// Room status codes the engine interprets (XEP-0045).
const (
	// MUCStatusSelfPresence marks the occupant's own presence.
	MUCStatusSelfPresence = 110

	// MUCStatusRoomCreated marks a freshly created room awaiting
	// configuration.
	MUCStatusRoomCreated = 201

	// MUCStatusAssignedNick marks a service-assigned (modified) nick.
	MUCStatusAssignedNick = 210
)

// IQ is an iq stanza with every payload the engine understands. Exactly one
// payload field is set per stanza; the rest stay nil.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr"`

	// SI is a stream initiation offer (XEP-0095/0096).
	SI *SI `xml:"http://jabber.org/protocol/si si,omitempty"`

	// IBB stream elements (XEP-0047).
	Open  *IBBOpen  `xml:"http://jabber.org/protocol/ibb open,omitempty"`
	Data  *IBBData  `xml:"http://jabber.org/protocol/ibb data,omitempty"`
	Close *IBBClose `xml:"http://jabber.org/protocol/ibb close,omitempty"`

	// VCard is a vcard-temp payload (XEP-0054).
	VCard *vcard.Card `xml:"vcard-temp vCard,omitempty"`

	// OwnerQuery is a muc#owner configuration exchange.
	OwnerQuery *OwnerQuery `xml:"http://jabber.org/protocol/muc#owner query,omitempty"`

	// UploadRequest and UploadSlot are the XEP-0363 slot negotiation.
	UploadRequest *UploadRequest `xml:"urn:xmpp:http:upload:0 request,omitempty"`
	UploadSlot    *UploadSlot    `xml:"urn:xmpp:http:upload:0 slot,omitempty"`

	// Error is present on type="error" responses.
	Error *stanza.Error `xml:"error,omitempty"`
}

// IQ types.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// SI is a stream initiation offer or acceptance.
type SI struct {
	SID      string `xml:"id,attr,omitempty"`
	Profile  string `xml:"profile,attr,omitempty"`
	MimeType string `xml:"mime-type,attr,omitempty"`

	File    *SIFile     `xml:"http://jabber.org/protocol/si/profile/file-transfer file,omitempty"`
	Feature *FeatureNeg `xml:"http://jabber.org/protocol/feature-neg feature,omitempty"`
}

// FileTransferProfile is the SI profile for file offers.
const FileTransferProfile = "http://jabber.org/protocol/si/profile/file-transfer"

// IBBNamespace identifies the in-band bytestream method in feature
// negotiation forms.
const IBBNamespace = "http://jabber.org/protocol/ibb"

// SIFile describes the offered file.
type SIFile struct {
	Name string `xml:"name,attr,omitempty"`
	Size int64  `xml:"size,attr,omitempty"`
	Desc string `xml:"desc,omitempty"`
}

// FeatureNeg wraps the stream-method data form.
type FeatureNeg struct {
	Form *Form `xml:"jabber:x:data x,omitempty"`
}

// Form is a jabber:x:data form.
type Form struct {
	Type   string      `xml:"type,attr,omitempty"`
	Title  string      `xml:"title,omitempty"`
	Fields []FormField `xml:"field,omitempty"`
}

// FormField is a single form field.
type FormField struct {
	Var     string       `xml:"var,attr,omitempty"`
	Type    string       `xml:"type,attr,omitempty"`
	Values  []string     `xml:"value,omitempty"`
	Options []FormOption `xml:"option,omitempty"`
}

// FormOption is a list-single/list-multi option.
type FormOption struct {
	Value string `xml:"value"`
}

// IBBOpen opens an in-band bytestream.
type IBBOpen struct {
	SID       string `xml:"sid,attr"`
	BlockSize int    `xml:"block-size,attr"`
	Stanza    string `xml:"stanza,attr,omitempty"`
}

// IBBData is one base64 chunk.
type IBBData struct {
	SID     string `xml:"sid,attr"`
	Seq     uint16 `xml:"seq,attr"`
	Payload string `xml:",chardata"`
}

// IBBClose closes an in-band bytestream.
type IBBClose struct {
	SID string `xml:"sid,attr"`
}

// OwnerQuery is the muc#owner configuration payload.
type OwnerQuery struct {
	Form *Form `xml:"jabber:x:data x,omitempty"`
}

// UploadRequest asks the upload service for a slot.
type UploadRequest struct {
	Filename    string `xml:"filename,attr"`
	Size        int64  `xml:"size,attr"`
	ContentType string `xml:"content-type,attr,omitempty"`
}

// UploadSlot is the PUT/GET URL pair issued by the upload service.
type UploadSlot struct {
	Put *UploadPut `xml:"put,omitempty"`
	Get *UploadGet `xml:"get,omitempty"`
}

// UploadPut is the PUT half of a slot.
type UploadPut struct {
	URL     string         `xml:"url,attr"`
	Headers []UploadHeader `xml:"header,omitempty"`
}

// UploadGet is the GET half of a slot.
type UploadGet struct {
	URL string `xml:"url,attr"`
}

// UploadHeader is a header the PUT request must carry.
type UploadHeader struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

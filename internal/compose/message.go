package compose

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Mutter0815/OABroadcast/internal/recipient"
)

var ErrNoAttachment = errors.New("attachment id is required")

// DetailButtonIcon is the icon the gateway renders next to the detail button.
const DetailButtonIcon = "https://truongvan.vn/wp-content/uploads/info.png"

type ElementKind string

const (
	KindBanner ElementKind = "banner"
	KindHeader ElementKind = "header"
	KindText   ElementKind = "text"
	KindTable  ElementKind = "table"
)

type Element struct {
	Kind         ElementKind
	AttachmentID string
	Align        Align
	Text         string
	Table        []TableRow
}

type Button struct {
	Title     string
	URL       string
	ImageIcon string
}

// Message is one fully composed promotion for a single recipient.
type Message struct {
	RecipientID string
	Elements    []Element
	Buttons     []Button
}

// Table returns the table block, if the message has one.
func (m Message) Table() ([]TableRow, bool) {
	for _, e := range m.Elements {
		if e.Kind == KindTable {
			return e.Table, true
		}
	}
	return nil, false
}

// Build merges t with r's data. It fails with ErrNoTableContent when the
// table is enabled but nothing usable remains for this recipient.
func Build(t Template, r recipient.Recipient, attachmentID string) (Message, error) {
	if blank(attachmentID) {
		return Message{}, ErrNoAttachment
	}
	t.Normalize()

	m := Message{
		RecipientID: r.ID,
		Elements: []Element{
			{Kind: KindBanner, AttachmentID: strings.TrimSpace(attachmentID)},
			{Kind: KindHeader, Align: t.HeaderAlign, Text: t.HeaderContent},
			{Kind: KindText, Align: t.BodyAlign, Text: t.Body},
		},
		Buttons: make([]Button, 0, 2),
	}

	if t.TableEnabled {
		rows, err := ResolveTable(t.TableRows, r, t.UseRecipientName, t.UseRecipientCode)
		if err != nil {
			return Message{}, err
		}
		m.Elements = append(m.Elements, Element{Kind: KindTable, Table: rows})
	}
	if t.FooterEnabled {
		m.Elements = append(m.Elements, Element{Kind: KindText, Align: AlignCenter, Text: t.Footer})
	}

	if t.Booking.Enabled {
		m.Buttons = append(m.Buttons, Button{Title: t.Booking.Title, URL: t.Booking.URL})
	}
	if t.Detail.Enabled && t.Detail.URL != "" {
		m.Buttons = append(m.Buttons, Button{Title: t.Detail.Title, URL: t.Detail.URL, ImageIcon: DetailButtonIcon})
	}
	return m, nil
}

type wireRecipient struct {
	UserID string `json:"user_id"`
}

type wireTableEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wireElement struct {
	Type         string `json:"type"`
	AttachmentID string `json:"attachment_id,omitempty"`
	Align        string `json:"align,omitempty"`
	Content      any    `json:"content,omitempty"`
}

type wireButtonPayload struct {
	URL string `json:"url"`
}

type wireButton struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Payload   wireButtonPayload `json:"payload"`
	ImageIcon string            `json:"image_icon"`
}

type wirePayload struct {
	TemplateType string        `json:"template_type"`
	Elements     []wireElement `json:"elements"`
	Buttons      []wireButton  `json:"buttons"`
}

type wireAttachment struct {
	Type    string      `json:"type"`
	Payload wirePayload `json:"payload"`
}

type wireMessage struct {
	Attachment wireAttachment `json:"attachment"`
}

type wireEnvelope struct {
	Recipient wireRecipient `json:"recipient"`
	Message   wireMessage   `json:"message"`
}

func (e Element) wire() wireElement {
	w := wireElement{Type: string(e.Kind)}
	switch e.Kind {
	case KindBanner:
		w.AttachmentID = e.AttachmentID
	case KindTable:
		entries := make([]wireTableEntry, len(e.Table))
		for i, row := range e.Table {
			entries[i] = wireTableEntry{Key: row.Label, Value: row.Value}
		}
		w.Content = entries
	default:
		w.Align = string(e.Align)
		w.Content = e.Text
	}
	return w
}

// MarshalJSON renders the gateway's promotion template envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	p := wirePayload{
		TemplateType: "promotion",
		Elements:     make([]wireElement, len(m.Elements)),
		Buttons:      make([]wireButton, len(m.Buttons)),
	}
	for i, e := range m.Elements {
		p.Elements[i] = e.wire()
	}
	for i, b := range m.Buttons {
		p.Buttons[i] = wireButton{
			Type:      "oa.open.url",
			Title:     b.Title,
			Payload:   wireButtonPayload{URL: b.URL},
			ImageIcon: b.ImageIcon,
		}
	}
	return json.Marshal(wireEnvelope{
		Recipient: wireRecipient{UserID: m.RecipientID},
		Message:   wireMessage{Attachment: wireAttachment{Type: "template", Payload: p}},
	})
}

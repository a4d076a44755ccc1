package compose

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

func (a Align) valid() bool {
	return a == AlignLeft || a == AlignCenter || a == AlignRight
}

const (
	MinTableRows = 1
	MaxTableRows = 2
)

var ErrInvalidTemplate = errors.New("invalid template")

type TableRow struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ButtonConfig is an operator-configured call-to-action.
type ButtonConfig struct {
	Enabled bool   `json:"enabled"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// Template is the static, operator-entered part of a promotional message.
// Per-recipient data is merged in by Build.
type Template struct {
	HeaderContent string `json:"header_content"`
	HeaderAlign   Align  `json:"header_align"`
	Body          string `json:"body"`
	BodyAlign     Align  `json:"body_align"`

	TableEnabled     bool       `json:"table_enabled"`
	TableRows        []TableRow `json:"table_rows"`
	UseRecipientName bool       `json:"use_recipient_name"`
	UseRecipientCode bool       `json:"use_recipient_code"`

	FooterEnabled bool   `json:"footer_enabled"`
	Footer        string `json:"footer"`

	Booking ButtonConfig `json:"booking_button"`
	Detail  ButtonConfig `json:"detail_button"`
}

func DefaultTemplate() Template {
	return Template{
		HeaderAlign:  AlignLeft,
		BodyAlign:    AlignLeft,
		TableEnabled: true,
		TableRows: []TableRow{
			{Label: "Tên khách hàng"},
			{Label: "Mã ưu đãi"},
		},
		UseRecipientName: true,
		UseRecipientCode: true,
		Booking:          ButtonConfig{Title: "Đặt phòng ngay"},
		Detail:           ButtonConfig{Title: "Xem chi tiết"},
	}
}

// Normalize fills blank alignments with left.
func (t *Template) Normalize() {
	if t.HeaderAlign == "" {
		t.HeaderAlign = AlignLeft
	}
	if t.BodyAlign == "" {
		t.BodyAlign = AlignLeft
	}
}

func (t Template) Validate() error {
	if n := len(t.TableRows); n < MinTableRows || n > MaxTableRows {
		return fmt.Errorf("%w: table must have %d-%d rows, got %d", ErrInvalidTemplate, MinTableRows, MaxTableRows, n)
	}
	if !t.HeaderAlign.valid() {
		return fmt.Errorf("%w: header_align %q", ErrInvalidTemplate, t.HeaderAlign)
	}
	if !t.BodyAlign.valid() {
		return fmt.Errorf("%w: body_align %q", ErrInvalidTemplate, t.BodyAlign)
	}
	if t.Booking.Enabled {
		if strings.TrimSpace(t.Booking.Title) == "" {
			return fmt.Errorf("%w: booking button needs a title", ErrInvalidTemplate)
		}
		if !validURL(t.Booking.URL) {
			return fmt.Errorf("%w: booking button url %q", ErrInvalidTemplate, t.Booking.URL)
		}
	}
	if t.Detail.Enabled {
		if strings.TrimSpace(t.Detail.Title) == "" {
			return fmt.Errorf("%w: detail button needs a title", ErrInvalidTemplate)
		}
		// an empty detail url just drops the button
		if t.Detail.URL != "" && !validURL(t.Detail.URL) {
			return fmt.Errorf("%w: detail button url %q", ErrInvalidTemplate, t.Detail.URL)
		}
	}
	return nil
}

func validURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

package compose

import (
	"errors"
	"strings"

	"github.com/Mutter0815/OABroadcast/internal/recipient"
)

var ErrNoTableContent = errors.New("no usable table content")

const (
	nameRow = 0
	codeRow = 1
)

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// resolveValue applies the data-source precedence for one row:
// toggle and recipient field first, then the operator's manual value.
func resolveValue(i int, row TableRow, r recipient.Recipient, useName, useCode bool) string {
	switch i {
	case nameRow:
		if useName && r.Name != "" {
			return r.Name
		}
	case codeRow:
		if useCode && !blank(r.Code) {
			return r.Code
		}
	}
	return row.Value
}

// ResolveTable produces the table rows to embed for r. Rows whose label or
// resolved value is blank are dropped; an empty result is ErrNoTableContent.
func ResolveTable(rows []TableRow, r recipient.Recipient, useName, useCode bool) ([]TableRow, error) {
	out := make([]TableRow, 0, len(rows))
	for i, row := range rows {
		v := resolveValue(i, row, r, useName, useCode)
		if blank(row.Label) || blank(v) {
			continue
		}
		out = append(out, TableRow{Label: row.Label, Value: v})
	}
	if len(out) == 0 {
		return nil, ErrNoTableContent
	}
	return out, nil
}

// CodeUsed is the code that ends up in r's message, recorded in customer history.
func CodeUsed(t Template, r recipient.Recipient) string {
	if !t.TableEnabled || len(t.TableRows) <= codeRow {
		return strings.TrimSpace(r.Code)
	}
	return resolveValue(codeRow, t.TableRows[codeRow], r, t.UseRecipientName, t.UseRecipientCode)
}

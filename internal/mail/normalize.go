package mail

import (
	"bytes"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/wesm/mailmind/internal/textutil"
)

// Normalize converts a raw fetched message into a canonical Message.
//
// The plain-text body part is preferred; when only HTML is present the
// markup is stripped. Undecodable parts yield an empty body and a
// degraded flag rather than a dropped message, and missing headers fall
// back to sentinel defaults ("" subject, zero time).
func Normalize(raw RawMessage) *Message {
	msg := &Message{
		ID:     raw.ID,
		Labels: raw.Labels,
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
	if err != nil {
		msg.Degraded = true
		msg.Notes = append(msg.Notes, "mime parse: "+err.Error())
		return msg
	}

	msg.Subject = decodeField(env.GetHeader("Subject"), msg)
	msg.From = firstAddress(env, "From")
	msg.To = addressList(env, "To")

	if dateStr := env.GetHeader("Date"); dateStr != "" {
		if t, ok := parseDate(dateStr); ok {
			msg.Date = t
		} else {
			msg.Notes = append(msg.Notes, "unparseable date: "+dateStr)
		}
	}

	msg.Body = bodyText(env, msg)

	// enmime reports non-fatal part errors it worked around. Record them
	// but only degrade when we also ended up with no body.
	for _, e := range env.Errors {
		msg.Notes = append(msg.Notes, e.Error())
	}
	if msg.Body == "" && len(env.Errors) > 0 {
		msg.Degraded = true
	}

	return msg
}

// bodyText picks the best body for a parsed envelope: the plain part if
// present, otherwise stripped HTML, otherwise empty.
func bodyText(env *enmime.Envelope, msg *Message) string {
	if text := strings.TrimSpace(env.Text); text != "" {
		return collapseBlankLines(decodeField(text, msg))
	}
	if env.HTML != "" {
		return StripHTML(decodeField(env.HTML, msg))
	}
	return ""
}

// decodeField repairs a header or body value to valid UTF-8, flagging
// the message as degraded when bytes had to be replaced.
func decodeField(s string, msg *Message) string {
	out, ok := textutil.ToUTF8(s)
	if !ok {
		msg.Degraded = true
		msg.Notes = append(msg.Notes, "undecodable text replaced")
	}
	return out
}

func firstAddress(env *enmime.Envelope, header string) string {
	addrs := addressList(env, header)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

func addressList(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		if a.Name != "" {
			out = append(out, a.Name+" <"+strings.ToLower(a.Address)+">")
		} else {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}

// dateFormats lists the date shapes seen in real mail headers, most
// common first.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate attempts the known header date formats, returning UTC.
func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")

	// A trailing "(UTC)" style comment defeats most formats; try with it
	// stripped first.
	base := s
	if idx := strings.LastIndex(s, "("); idx > 0 {
		base = strings.TrimSpace(s[:idx])
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, base); err == nil {
			return t.UTC(), true
		}
	}
	if base != s {
		for _, format := range dateFormats {
			if t, err := time.Parse(format, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

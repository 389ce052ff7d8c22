package logstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Kind distinguishes relay-generated lines from user chat.
type Kind string

const (
	KindSystem Kind = "system"
	KindChat   Kind = "chat"
)

// SystemActor is the actor name written for system records.
const SystemActor = "System"

// TimestampLayout is the second-precision timestamp used in log lines.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrCorruptRecord is returned when a persisted line does not follow the
// record grammar.
var ErrCorruptRecord = errors.New("corrupt log record")

var linePattern = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] ([^:]+): (.*)$`)

// Record is one durable chat or system event.
type Record struct {
	Timestamp time.Time
	Actor     string
	Kind      Kind
	Text      string
}

// Entry is a record together with the offset it was written at.
type Entry struct {
	Offset int64
	Record Record
	Line   string
}

// NewChatRecord builds a chat record for actor. The record holds exactly
// what ParseLine reads back from its line: a UTC timestamp truncated to the
// second and text with line breaks flattened.
func NewChatRecord(ts time.Time, actor, text string) Record {
	return Record{Timestamp: normalizeTime(ts), Actor: actor, Kind: KindChat, Text: flatten(text)}
}

// NewSystemRecord builds a record written by the relay itself.
func NewSystemRecord(ts time.Time, text string) Record {
	return Record{Timestamp: normalizeTime(ts), Actor: SystemActor, Kind: KindSystem, Text: flatten(text)}
}

func normalizeTime(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Second)
}

// JoinedText is the system text appended when handle joins a channel.
func JoinedText(handle string) string {
	return handle + " has joined the chat"
}

// LeftText is the system text appended when handle leaves a channel.
func LeftText(handle string) string {
	return handle + " has left the chat"
}

// FormatLine renders r without the trailing newline. Line breaks inside the
// text are flattened to spaces so the record stays on one line.
func FormatLine(r Record) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(r.Timestamp.UTC().Format(TimestampLayout))
	b.WriteString("] ")
	b.WriteString(r.Actor)
	b.WriteString(": ")
	b.WriteString(flatten(r.Text))
	return b.String()
}

// ParseLine parses a line produced by FormatLine. Timestamps are read back
// as UTC with second precision.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Record{}, fmt.Errorf("%w: %q", ErrCorruptRecord, line)
	}

	ts, err := time.ParseInLocation(TimestampLayout, m[1], time.UTC)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad timestamp %q", ErrCorruptRecord, m[1])
	}

	kind := KindChat
	if m[2] == SystemActor {
		kind = KindSystem
	}

	return Record{
		Timestamp: ts,
		Actor:     m[2],
		Kind:      kind,
		Text:      m[3],
	}, nil
}

func flatten(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrIndexOutOfRange is returned by Get and ClearAt for indices outside [0, len).
var ErrIndexOutOfRange = errors.New("relay: error index out of range")

// Origin records where a logged failure arose: inside a user command
// invocation (user/channel/command/jump link populated) or elsewhere
// (Label populated).
type Origin struct {
	Command     bool
	UserName    string
	ChannelID   string
	CommandName string
	JumpLink    string
	Label       string
}

// CommandOrigin builds an Origin for a failure inside a command invocation.
func CommandOrigin(userName, channelID, commandName, jumpLink string) Origin {
	return Origin{
		Command:     true,
		UserName:    userName,
		ChannelID:   channelID,
		CommandName: commandName,
		JumpLink:    jumpLink,
	}
}

// LabelOrigin builds an Origin for a failure outside any command.
func LabelOrigin(label string) Origin {
	return Origin{Label: label}
}

func (o Origin) String() string {
	if o.Command {
		return "CMD: " + o.CommandName
	}
	if o.Label != "" {
		return o.Label
	}
	return "outside command"
}

// ErrorRecord is one immutable entry of the error log.
type ErrorRecord struct {
	Err          error
	Time         time.Time
	Origin       Origin
	OriginalText string // full text of the triggering message, if any
	Attachment   string // filename of the triggering attachment, if any
}

// ErrorLog is the bounded, append-only-with-eviction record of faults that
// were not shown verbatim to the user. Records are kept in insertion order;
// appending beyond the cap evicts the oldest record.
type ErrorLog struct {
	mu       sync.Mutex
	records  []ErrorRecord
	max      int
	onChange func(degraded bool) // presence indicator hook, may be nil
}

// ErrorLogOpts holds parameters for creating an ErrorLog.
type ErrorLogOpts struct {
	MaxRecords int                 // defaults to 50
	OnChange   func(degraded bool) // called with true on append, false on clear-to-empty
}

// NewErrorLog creates an ErrorLog.
func NewErrorLog(opts ErrorLogOpts) *ErrorLog {
	max := opts.MaxRecords
	if max <= 0 {
		max = 50
	}
	return &ErrorLog{max: max, onChange: opts.OnChange}
}

// Append stores a record. It never fails and is safe to call from any
// failure path.
func (l *ErrorLog) Append(err error, origin Origin, originalText, attachment string) {
	l.mu.Lock()
	l.records = append(l.records, ErrorRecord{
		Err:          err,
		Time:         time.Now().UTC(),
		Origin:       origin,
		OriginalText: originalText,
		Attachment:   attachment,
	})
	if len(l.records) > l.max {
		l.records = l.records[len(l.records)-l.max:]
	}
	notify := l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(true)
	}
}

// Len returns the number of stored records.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of all stored records in insertion order.
func (l *ErrorLog) Records() []ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Get returns the record at index, or ErrIndexOutOfRange.
func (l *ErrorLog) Get(index int) (ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.records) {
		return ErrorRecord{}, ErrIndexOutOfRange
	}
	return l.records[index], nil
}

// ClearAt removes the record at index, shifting subsequent indices down.
// Every clear resets the presence indicator to nominal, even while records
// remain: an operator clearing an entry has seen the log.
func (l *ErrorLog) ClearAt(index int) error {
	l.mu.Lock()
	if index < 0 || index >= len(l.records) {
		l.mu.Unlock()
		return ErrIndexOutOfRange
	}
	l.records = append(l.records[:index], l.records[index+1:]...)
	notify := l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(false)
	}
	return nil
}

// ClearAll removes every record and resets the presence indicator.
func (l *ErrorLog) ClearAll() {
	l.mu.Lock()
	l.records = nil
	notify := l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// Sweep drops records older than ttl and returns how many were removed.
// Run periodically so the log stays bounded in time as well as count.
func (l *ErrorLog) Sweep(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)
	l.mu.Lock()
	kept := l.records[:0]
	for _, rec := range l.records {
		if rec.Time.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := len(l.records) - len(kept)
	l.records = kept
	empty := len(l.records) == 0
	notify := l.onChange
	l.mu.Unlock()

	if notify != nil && removed > 0 && empty {
		notify(false)
	}
	return removed
}

// List renders a concise summary of all records, split into pages that each
// fit within budget characters (the chat payload ceiling). Pages are
// enumerated in insertion order.
func (l *ErrorLog) List(budget int) []string {
	records := l.Records()
	if len(records) == 0 {
		return []string{"Error log is empty"}
	}
	if budget <= 0 {
		budget = 1800
	}

	var pages []string
	var b strings.Builder
	fmt.Fprintf(&b, "Number of stored errors: %d", len(records))
	for i, rec := range records {
		line := fmt.Sprintf("\n%d: [%s] - [%s]\n   %s",
			i,
			rec.Time.Format("2006-01-02T15:04:05"),
			rec.Origin,
			truncate(rec.Err.Error(), 200))
		if len(line) > budget {
			cut := budget - 3
			if cut < 0 {
				cut = 0
			}
			line = truncate(line, cut)
		}
		if b.Len()+len(line) > budget {
			pages = append(pages, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		pages = append(pages, b.String())
	}
	return pages
}

// Detail renders one record in full: age, origin context, error chain, and
// the message text that triggered it.
func Detail(rec ErrorRecord) string {
	var b strings.Builder

	delta := time.Since(rec.Time)
	hours := int(delta.Hours())
	seconds := int(delta.Seconds()) - hours*3600
	fmt.Fprintf(&b, "Error occurred %d hours and %d seconds ago\n", hours, seconds)

	if rec.Origin.Command {
		fmt.Fprintf(&b, "Channel: %s\nUser: %s\nCommand: %s\n",
			rec.Origin.ChannelID, rec.Origin.UserName, rec.Origin.CommandName)
		if rec.Origin.JumpLink != "" {
			fmt.Fprintf(&b, "%s\n", rec.Origin.JumpLink)
		}
	} else {
		fmt.Fprintf(&b, "Caught in: %s\n", rec.Origin)
	}

	b.WriteString("\nError chain:\n")
	for err := rec.Err; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&b, "  %s\n", err.Error())
	}

	if rec.OriginalText != "" {
		fmt.Fprintf(&b, "\nOriginal message:\n%s\n", rec.OriginalText)
	}
	if rec.Attachment != "" {
		fmt.Fprintf(&b, "\nAttached file: %s\n", rec.Attachment)
	}
	return b.String()
}

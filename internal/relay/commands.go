package relay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/corbin-hayes/coderelay/internal/gateway"
	"github.com/corbin-hayes/coderelay/internal/updater"
)

const howtoText = "Type the following to run code:\n\n" +
	"/run <language>\n" +
	"\\`\\`\\`\n" +
	"your code\n" +
	"\\`\\`\\`\n\n" +
	"Stdin lines go after the closing fence, argument lines between the " +
	"command and the opening fence. You can also attach a source file " +
	"with a /run line in the message body. Edit your message to re-run, " +
	"delete it (or type /delete) to remove the reply."

// commandWord returns the first whitespace-separated token of text, the
// command routing key.
func commandWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (s *Service) handleAdmin(ctx context.Context, msg gateway.Message) {
	fields := strings.Fields(msg.Text)
	args := fields[1:]

	switch fields[0] {
	case "/maintenance":
		s.cmdMaintenance(ctx, msg, args)
	case "/error":
		s.cmdError(ctx, msg, args)
	case "/stats":
		s.cmdStats(ctx, msg)
	case "/update":
		s.cmdUpdate(ctx, msg)
	}
}

func (s *Service) cmdMaintenance(ctx context.Context, msg gateway.Message, args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		s.reply(ctx, msg.Ref.ChannelID, "Usage: /maintenance on|off")
		return
	}
	on := args[0] == "on"
	s.maintenance.Store(on)
	log.Printf("relay: maintenance mode %s (by %s)", args[0], msg.UserName)
	s.reply(ctx, msg.Ref.ChannelID, "Maintenance mode is now "+args[0])
}

func (s *Service) cmdError(ctx context.Context, msg gateway.Message, args []string) {
	switch {
	case len(args) == 0 || args[0] == "list":
		for _, page := range s.errlog.List(s.maxChars - 8) {
			s.reply(ctx, msg.Ref.ChannelID, "```\n"+page+"\n```")
		}
	case args[0] == "show" && len(args) == 2:
		index, err := strconv.Atoi(args[1])
		if err != nil {
			s.reply(ctx, msg.Ref.ChannelID, "Usage: /error show <index>")
			return
		}
		rec, err := s.errlog.Get(index)
		if err != nil {
			s.reply(ctx, msg.Ref.ChannelID, fmt.Sprintf("No error at index %d", index))
			return
		}
		s.reply(ctx, msg.Ref.ChannelID, "```\n"+Detail(rec)+"\n```")
	case args[0] == "clear" && len(args) == 1:
		s.errlog.ClearAll()
		s.reply(ctx, msg.Ref.ChannelID, "Error log cleared")
	case args[0] == "clear" && len(args) == 2:
		index, err := strconv.Atoi(args[1])
		if err != nil {
			s.reply(ctx, msg.Ref.ChannelID, "Usage: /error clear [index]")
			return
		}
		if err := s.errlog.ClearAt(index); err != nil {
			s.reply(ctx, msg.Ref.ChannelID, fmt.Sprintf("No error at index %d", index))
			return
		}
		s.reply(ctx, msg.Ref.ChannelID, fmt.Sprintf("Removed error %d", index))
	default:
		s.reply(ctx, msg.Ref.ChannelID, "Usage: /error [list|show <index>|clear [index]]")
	}
}

func (s *Service) cmdStats(ctx context.Context, msg gateway.Message) {
	if s.history == nil {
		s.reply(ctx, msg.Ref.ChannelID, "Run history is not configured")
		return
	}
	total, counts, err := s.history.Stats()
	if err != nil {
		s.errlog.Append(err,
			CommandOrigin(msg.UserName, msg.Ref.ChannelID, "stats", msg.JumpLink),
			msg.Text, "")
		s.reply(ctx, msg.Ref.ChannelID, apologyText)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total runs: %d\n", total)
	for _, c := range counts {
		fmt.Fprintf(&b, "%s: %d\n", c.Language, c.Count)
	}
	s.reply(ctx, msg.Ref.ChannelID, b.String())
}

func (s *Service) cmdUpdate(ctx context.Context, msg gateway.Message) {
	if s.updater == nil {
		s.reply(ctx, msg.Ref.ChannelID, "Update checking is not configured")
		return
	}
	status, err := s.updater.Check(ctx, s.commit)
	if err != nil {
		s.errlog.Append(err,
			CommandOrigin(msg.UserName, msg.Ref.ChannelID, "update", msg.JumpLink),
			msg.Text, "")
		s.reply(ctx, msg.Ref.ChannelID, apologyText)
		return
	}
	s.reply(ctx, msg.Ref.ChannelID, updater.Render(status, s.commit))
}

// helpText renders the usage template plus the supported languages grouped
// by first letter.
func (s *Service) helpText() string {
	langs := s.aliases.Languages()
	sort.Strings(langs)

	var b strings.Builder
	b.WriteString(howtoText)
	b.WriteString("\n\nSupported languages:\n")

	var initial byte
	for _, lang := range langs {
		if lang == "" {
			continue
		}
		if lang[0] != initial {
			if initial != 0 {
				b.WriteString("\n")
			}
			initial = lang[0]
			fmt.Fprintf(&b, "**%c**: %s", initial, lang)
			continue
		}
		b.WriteString(", " + lang)
	}
	return b.String()
}

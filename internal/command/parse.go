// Package command extracts structured run requests from raw chat messages.
// Two grammars are supported: a fenced codeblock in the message body, and a
// single file attachment with surrounding argument/stdin lines. Parse
// failures are typed Faults rendered straight back to the requester.
package command

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/corbin-hayes/coderelay/internal/gateway"
	"github.com/corbin-hayes/coderelay/internal/piston"
)

const fence = "```"

// RunRequest is a validated, executable run request.
type RunRequest struct {
	Language piston.Language
	Source   string
	Args     []string
	Stdin    string
}

// Parser turns message bodies into RunRequests using the language alias
// table resolved at startup.
type Parser struct {
	aliases       *piston.AliasTable
	attachmentCap int
}

// ParserOpts holds parameters for creating a Parser.
type ParserOpts struct {
	Aliases       *piston.AliasTable
	AttachmentCap int // max attachment size in bytes, defaults to 64 KiB
}

// NewParser creates a Parser.
func NewParser(opts ParserOpts) (*Parser, error) {
	if opts.Aliases == nil {
		return nil, fmt.Errorf("command: parser: alias table is required")
	}
	cap := opts.AttachmentCap
	if cap <= 0 {
		cap = 64 * 1024
	}
	return &Parser{aliases: opts.Aliases, attachmentCap: cap}, nil
}

// FetchFunc downloads attachment content. Provided by the gateway adapter.
type FetchFunc func(ctx context.Context, att gateway.Attachment) ([]byte, error)

// Parse extracts a RunRequest from a message. When the message carries an
// attachment the attachment grammar takes priority over any codeblock in the
// body; fetch is only called on that path. Returns a *Fault for user input
// errors; any other error comes from fetch.
func (p *Parser) Parse(ctx context.Context, msg gateway.Message, fetch FetchFunc) (*RunRequest, error) {
	if len(msg.Attachments) > 0 {
		return p.parseAttachment(ctx, msg, fetch)
	}
	return p.parseCodeblock(msg.Text)
}

// parseCodeblock matches the codeblock grammar:
//
//	/run [language]
//	[arg line]*
//	```[syntax tag]
//	source
//	```
//	[stdin lines]
func (p *Parser) parseCodeblock(text string) (*RunRequest, error) {
	if strings.Count(text, fence) != 2 {
		return nil, badFormat("Expected exactly one code block (two ``` fences). Type `/help` for the format.")
	}

	parts := strings.SplitN(text, fence, 3)
	head, block, tail := parts[0], parts[1], parts[2]

	token, args := parseHead(head)

	// The first line inside the fence is the syntax tag; the source starts
	// after it. A block with no newline has a tag but no source.
	tag := block
	source := ""
	if idx := strings.IndexByte(block, '\n'); idx >= 0 {
		tag = block[:idx]
		source = block[idx+1:]
	}
	if token == "" {
		token = strings.TrimSpace(tag)
	}
	if token == "" {
		return nil, badFormat("No language specified. Put it after /run or on the opening ``` fence.")
	}

	lang, ok := p.aliases.Resolve(token)
	if !ok {
		return nil, unsupportedLanguage(token)
	}

	source = trimBlankLines(source)
	if source == "" {
		return nil, &Fault{Kind: NoSourceCode, Message: "No source code found in the code block."}
	}

	return &RunRequest{
		Language: lang,
		Source:   source,
		Args:     args,
		Stdin:    strings.TrimPrefix(tail, "\n"),
	}, nil
}

// parseAttachment matches the attachment grammar. Exactly one attachment is
// supported; the language comes from an explicit token or the filename
// extension; argument and stdin lines come from the message body, separated
// by the first blank line after the command line.
func (p *Parser) parseAttachment(ctx context.Context, msg gateway.Message, fetch FetchFunc) (*RunRequest, error) {
	if len(msg.Attachments) != 1 {
		return nil, badFormat("Please attach exactly one source file.")
	}
	att := msg.Attachments[0]

	if att.Size > p.attachmentCap {
		return nil, &Fault{
			Kind: PayloadTooLarge,
			Message: fmt.Sprintf("Attached file is too large: %d bytes (limit %d bytes).",
				att.Size, p.attachmentCap),
		}
	}

	token, args, stdin := parseAttachmentBody(msg.Text)
	if token == "" {
		ext := strings.TrimPrefix(path.Ext(att.Filename), ".")
		if ext == "" {
			return nil, badFormat("Cannot infer the language: `%s` has no file extension.", att.Filename)
		}
		token = ext
	}

	lang, ok := p.aliases.Resolve(token)
	if !ok {
		return nil, unsupportedLanguage(token)
	}

	data, err := fetch(ctx, att)
	if err != nil {
		return nil, fmt.Errorf("command: fetch attachment %s: %w", att.Filename, err)
	}
	if !utf8.Valid(data) || strings.ContainsRune(string(data), 0) {
		return nil, &Fault{
			Kind:    InvalidEncoding,
			Message: fmt.Sprintf("Attached file `%s` is not valid text.", att.Filename),
		}
	}

	source := trimBlankLines(string(data))
	if source == "" {
		return nil, &Fault{Kind: NoSourceCode, Message: "Attached file is empty."}
	}

	return &RunRequest{Language: lang, Source: source, Args: args, Stdin: stdin}, nil
}

// parseHead splits the text before the opening fence into the command-line
// language token and the argument lines.
func parseHead(head string) (token string, args []string) {
	lines := strings.Split(head, "\n")
	fields := strings.Fields(lines[0])
	if len(fields) > 1 {
		token = fields[1]
	}
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			args = append(args, line)
		}
	}
	return token, args
}

// parseAttachmentBody applies the line convention to a fence-less body:
// argument lines follow the command line until the first blank line, and
// everything after that blank line is stdin.
func parseAttachmentBody(text string) (token string, args []string, stdin string) {
	lines := strings.Split(text, "\n")
	fields := strings.Fields(lines[0])
	if len(fields) > 1 {
		token = fields[1]
	}
	rest := lines[1:]
	for i, line := range rest {
		if strings.TrimSpace(line) == "" {
			stdin = strings.Join(rest[i+1:], "\n")
			break
		}
		args = append(args, line)
	}
	return token, args, stdin
}

// trimBlankLines removes leading and trailing blank lines, keeping interior
// structure intact.
func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Render re-serializes a RunRequest into the canonical codeblock template.
// Parsing the result yields the same request; used by help text and tests.
func Render(req *RunRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "/run %s\n", req.Language.Name)
	for _, arg := range req.Args {
		b.WriteString(arg)
		b.WriteByte('\n')
	}
	b.WriteString(fence)
	b.WriteByte('\n')
	b.WriteString(req.Source)
	b.WriteByte('\n')
	b.WriteString(fence)
	if req.Stdin != "" {
		b.WriteByte('\n')
		b.WriteString(req.Stdin)
	}
	return b.String()
}

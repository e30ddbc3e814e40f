package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/corbin-hayes/coderelay/internal/config"
)

func newSetupCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively write a config file",
		Long:  "Prompts for the platform, credentials, and backend URL and writes a starter config file. Tokens are read without echo when run in a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "coderelay.yaml", "path to config file to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runSetup(cmd *cobra.Command, configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	p := &prompter{
		out: cmd.OutOrStdout(),
		in:  bufio.NewReader(cmd.InOrStdin()),
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}

	var cfg config.Config

	platform, err := p.ask("Platform (discord/slack)", "discord")
	if err != nil {
		return err
	}
	cfg.Platform = platform

	switch platform {
	case "discord":
		cfg.Discord.BotToken, err = p.secret("Discord bot token")
		if err != nil {
			return err
		}
	case "slack":
		if cfg.Slack.AppToken, err = p.secret("Slack app token (xapp-...)"); err != nil {
			return err
		}
		if cfg.Slack.BotToken, err = p.secret("Slack bot token (xoxb-...)"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported platform %q", platform)
	}

	cfg.Piston.URL, err = p.ask("Execution backend URL", "https://emkc.org/api/v2/piston")
	if err != nil {
		return err
	}

	admins, err := p.ask("Admin user IDs (comma separated, optional)", "")
	if err != nil {
		return err
	}
	for _, id := range strings.Split(admins, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Admins = append(cfg.Admins, id)
		}
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nStart the bot with: coderelay start -c %s\n", configPath, configPath)
	return nil
}

// prompter reads answers from the command's input, using no-echo reads for
// secrets when attached to a terminal.
type prompter struct {
	out io.Writer
	in  *bufio.Reader
	tty bool
	fd  int
}

func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (p *prompter) secret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if p.tty {
		raw, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

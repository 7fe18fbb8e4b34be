package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"voiceai/internal/domain"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one question to the assistant and print the reply",
		ArgsUsage: "<text>...",
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			text := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				fmt.Fprintln(cmd.Root().ErrWriter, domain.UserMessage(domain.ErrInvalidInput))
				return domain.ErrInvalidInput
			}

			a, err := openApp(ctx, cmd, cmd.Root().ErrWriter, true)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Combine(err, a.Close())
			}()

			assistant := a.assistant()
			reply, err := assistant.GetResponse(ctx, text)
			// Let the usage record land before the database closes.
			assistant.Wait()
			if err != nil {
				fmt.Fprintln(cmd.Root().ErrWriter, domain.UserMessage(err))
				return err
			}

			fmt.Fprintln(cmd.Root().Writer, reply)
			return nil
		},
	}
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "Show recorded token usage, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "Number of records to show (0 for all)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			a, err := openApp(ctx, cmd, cmd.Root().ErrWriter, false)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Combine(err, a.Close())
			}()

			records, err := a.usage.Recent(ctx, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			totals, err := a.usage.Totals(ctx)
			if err != nil {
				return err
			}

			out := cmd.Root().Writer
			if len(records) == 0 {
				fmt.Fprintln(out, "No usage recorded yet.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tMODEL\tPROMPT\tCOMPLETION\tTOTAL")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
					r.Time().Local().Format(time.DateTime), r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d requests, %d tokens (%d prompt, %d completion)\n",
				totals.Requests, totals.TotalTokens, totals.PromptTokens, totals.CompletionTokens)
			return nil
		},
	}
}

func keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the stored API key",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store the API key (reads stdin when no argument is given)",
				ArgsUsage: "[key]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					key := cmd.Args().First()
					if key == "" || key == "-" {
						var err error
						if key, err = readLine(cmd.Root().Reader); err != nil {
							return fmt.Errorf("reading key from stdin: %w", err)
						}
					}
					key = strings.TrimSpace(key)
					if key == "" {
						return errors.New("API key must not be empty")
					}

					return withKeys(ctx, cmd, func(a *app) error {
						if err := a.keys.SetAPIKey(ctx, key); err != nil {
							return err
						}
						fmt.Fprintln(cmd.Root().Writer, "API key saved.")
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "Report whether an API key is stored",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeys(ctx, cmd, func(a *app) error {
						_, ok, err := a.keys.APIKey(ctx)
						if err != nil {
							return err
						}
						if ok {
							fmt.Fprintln(cmd.Root().Writer, "API key: configured")
						} else {
							fmt.Fprintln(cmd.Root().Writer, "API key: not configured")
						}
						return nil
					})
				},
			},
			{
				Name:  "clear",
				Usage: "Remove the stored API key",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeys(ctx, cmd, func(a *app) error {
						if err := a.keys.SetAPIKey(ctx, ""); err != nil {
							return err
						}
						fmt.Fprintln(cmd.Root().Writer, "API key removed.")
						return nil
					})
				},
			},
		},
	}
}

func wakeCommand() *cli.Command {
	setWake := func(enabled bool) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			return withKeys(ctx, cmd, func(a *app) error {
				if err := a.keys.SetWakeWordEnabled(ctx, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "Wake word detection %s (applies the next time serve starts).\n", onOff(enabled))
				return nil
			})
		}
	}

	return &cli.Command{
		Name:  "wake",
		Usage: "Manage the wake word setting",
		Commands: []*cli.Command{
			{Name: "enable", Usage: "Turn wake word detection on", Action: setWake(true)},
			{Name: "disable", Usage: "Turn wake word detection off", Action: setWake(false)},
			{
				Name:  "status",
				Usage: "Show the stored wake word setting",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withKeys(ctx, cmd, func(a *app) error {
						enabled, err := a.keys.WakeWordEnabled(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.Root().Writer, "Wake word detection: %s (phrase %q)\n", onOff(enabled), a.cfg.Wake.Phrase)
						return nil
					})
				},
			},
		},
	}
}

func withKeys(ctx context.Context, cmd *cli.Command, fn func(a *app) error) error {
	a, err := openApp(ctx, cmd, cmd.Root().ErrWriter, true)
	if err != nil {
		return err
	}
	return multierr.Combine(fn(a), a.Close())
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		r = os.Stdin
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/authenticator"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/internal/config"
	"github.com/myeganeh2876/MomentumPasskeyTest/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdin).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(stdin io.Reader) *cli.App {
	countryFlag := &cli.StringFlag{Name: "country", Value: "US", Usage: "ISO country of the phone number"}

	// withClient loads configuration and wires the client before the action runs
	withClient := func(action func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			rt, err := setup(c.Context, cfg, logger, presencePrompt(c, stdin))
			if err != nil {
				return err
			}
			defer rt.Close()
			return action(c, rt)
		}
	}

	return &cli.App{
		Name:  "passkey-client",
		Usage: "sign in with a phone code or a passkey",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "approve passkey prompts without asking"},
		},
		Commands: []*cli.Command{
			{
				Name:      "request-code",
				Usage:     "send a verification code to a phone",
				ArgsUsage: "PHONE",
				Flags:     []cli.Flag{countryFlag},
				Action: withClient(func(c *cli.Context, rt *runtime) error {
					phone := c.Args().First()
					if err := rt.client.RequestCode(c.Context, phone, c.String("country")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Verification code sent to %s\n", phone)
					return nil
				}),
			},
			{
				Name:      "verify-code",
				Usage:     "log in with a verification code",
				ArgsUsage: "PHONE CODE",
				Flags:     []cli.Flag{countryFlag},
				Action: withClient(func(c *cli.Context, rt *runtime) error {
					user, err := rt.client.VerifyCode(c.Context, c.Args().Get(0), c.Args().Get(1), c.String("country"))
					if err != nil {
						return err
					}
					printUser(c.App.Writer, user)
					rt.client.Wait()
					return nil
				}),
			},
			{
				Name:      "passkey-login",
				Usage:     "log in with a passkey, falling back to a verification code",
				ArgsUsage: "[PHONE]",
				Flags:     []cli.Flag{countryFlag},
				Action: withClient(func(c *cli.Context, rt *runtime) error {
					phone := c.Args().First()
					outcome, err := rt.client.StartPasskeyAuthentication(c.Context, phone, c.String("country"))
					if err != nil {
						return err
					}
					if outcome.CodeRequested() {
						fmt.Fprintf(c.App.Writer, "Passkey login failed: %v\n", outcome.PasskeyErr)
						fmt.Fprintf(c.App.Writer, "Verification code sent to %s; run verify-code to continue\n", outcome.Phone)
						return nil
					}
					printUser(c.App.Writer, rt.client.CurrentUser())
					return nil
				}),
			},
			{
				Name:  "register-passkey",
				Usage: "enroll a passkey for the logged-in user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Value: "Momentum client", Usage: "credential name"},
				},
				Action: withClient(func(c *cli.Context, rt *runtime) error {
					credential, err := rt.client.RegisterPasskey(c.Context, c.String("name"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Registered passkey %s (%s)\n", credential.Name, credential.ID)
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "show the stored session",
				Action: withClient(func(c *cli.Context, rt *runtime) error {
					user, err := rt.client.Restore(c.Context)
					if err != nil {
						return err
					}
					deviceID, err := rt.client.DeviceID(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Device: %s\n", deviceID)
					if !user.IsLoggedIn {
						fmt.Fprintln(c.App.Writer, "Not logged in")
						return nil
					}
					session, err := rt.client.Tokens.Session(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Logged in")
					if !session.ExpiresAt.IsZero() {
						fmt.Fprintf(c.App.Writer, "Access token expires: %s\n", session.ExpiresAt.Local().Format(time.RFC3339))
					}
					return nil
				}),
			},
			{
				Name:  "logout",
				Usage: "end the session of this device",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "log out every device of the user"},
					&cli.BoolFlag{Name: "local", Usage: "only clear the local session"},
				},
				Action: withClient(func(c *cli.Context, rt *runtime) error {
					if c.Bool("all") {
						return rt.client.LogoutAllDevices(c.Context)
					}
					var deviceID string
					if !c.Bool("local") {
						id, err := rt.client.DeviceID(c.Context)
						if err != nil {
							return err
						}
						deviceID = id
					}
					if err := rt.client.Logout(c.Context, deviceID); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Logged out")
					return nil
				}),
			},
			{
				Name:  "credentials",
				Usage: "manage passkeys",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list passkeys",
						Action: withClient(func(c *cli.Context, rt *runtime) error {
							credentials, err := rt.client.Credentials(c.Context)
							if err != nil {
								return err
							}
							for _, cr := range credentials {
								fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", cr.ID, cr.Name, formatTime(cr.LastUsedAt))
							}
							return nil
						}),
					},
					{
						Name:      "delete",
						Usage:     "delete a passkey",
						ArgsUsage: "ID",
						Action: withClient(func(c *cli.Context, rt *runtime) error {
							return rt.client.DeleteCredential(c.Context, c.Args().First())
						}),
					},
				},
			},
			{
				Name:  "devices",
				Usage: "manage logged-in devices",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list devices",
						Action: withClient(func(c *cli.Context, rt *runtime) error {
							devices, err := rt.client.Devices(c.Context)
							if err != nil {
								return err
							}
							for _, d := range devices {
								marker := " "
								if d.Current {
									marker = "*"
								}
								fmt.Fprintf(c.App.Writer, "%s %s\t%s\t%s\n", marker, d.ID, d.Name, formatTime(d.LastLogin))
							}
							return nil
						}),
					},
					{
						Name:      "show",
						Usage:     "show one device",
						ArgsUsage: "ID",
						Action: withClient(func(c *cli.Context, rt *runtime) error {
							d, err := rt.client.Device(c.Context, c.Args().First())
							if err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "ID: %s\nName: %s\nUser agent: %s\nPush token: %s\nLast login: %s\n",
								d.ID, d.Name, d.UserAgent, d.FCMToken, formatTime(d.LastLogin))
							return nil
						}),
					},
					{
						Name:      "push-token",
						Usage:     "set the push token of this device",
						ArgsUsage: "TOKEN",
						Action: withClient(func(c *cli.Context, rt *runtime) error {
							return rt.client.SetFCMToken(c.Context, c.Args().First())
						}),
					},
				},
			},
		},
	}
}

// presencePrompt asks on the terminal before each ceremony unless --yes is set
func presencePrompt(c *cli.Context, stdin io.Reader) authenticator.PresenceFunc {
	if c.Bool("yes") {
		return nil
	}
	reader := bufio.NewReader(stdin)
	return func(ctx context.Context, kind core.CeremonyKind, rpID string) error {
		fmt.Fprintf(c.App.ErrWriter, "Approve passkey %s for %s? [Y/n] ", kind, rpID)
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "", "y", "yes":
			return nil
		default:
			return core.ErrCeremonyDeclined
		}
	}
}

func printUser(w io.Writer, user core.AuthenticatedUser) {
	if !user.IsLoggedIn {
		fmt.Fprintln(w, "Not logged in")
		return
	}
	name := strings.TrimSpace(user.Profile.FirstName + " " + user.Profile.LastName)
	if name == "" {
		name = user.Profile.Phone
	}
	fmt.Fprintf(w, "Logged in as %s\n", name)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

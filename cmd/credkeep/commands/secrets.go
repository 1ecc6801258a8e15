package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/credkeep/internal/auth"
	"github.com/florianilch/credkeep/internal/broker"
	"github.com/florianilch/credkeep/internal/keyconv"
	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
)

var errNoSecret = errors.New("no secret available")

func promptFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "prompt",
		Usage: "prompt behavior (auto|always|never)",
		Value: retrieval.Auto.String(),
	}
}

func uriFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "uri",
		Usage:    "resource the secret belongs to",
		Required: required,
	}
}

// secretArgs parses the uri and prompt flags. uri is nil when the flag is unset.
func secretArgs(cmd *cli.Command) (*url.URL, retrieval.PromptBehavior, error) {
	behavior, err := retrieval.ParsePromptBehavior(cmd.String("prompt"))
	if err != nil {
		return nil, 0, err
	}
	raw := cmd.String("uri")
	if raw == "" {
		return nil, behavior, nil
	}
	uri, err := keyconv.Parse(raw)
	if err != nil {
		return nil, 0, err
	}
	return uri, behavior, nil
}

func writeOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withSession runs fn against a freshly opened session and closes it afterwards.
func withSession(ctx context.Context, cmd *cli.Command, fn func(*session) error) (err error) {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close(context.Background()))
	}()
	return fn(s)
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "print a secret, acquiring it if needed",
		Commands: []*cli.Command{
			{
				Name:   "credential",
				Usage:  "username and password for a URI",
				Flags:  []cli.Flag{uriFlag(true), promptFlag()},
				Action: getCredentialAction,
			},
			{
				Name:  "pat",
				Usage: "personal access token (global unless --uri is given)",
				Flags: []cli.Flag{
					uriFlag(false),
					promptFlag(),
					&cli.StringFlag{Name: "display-name", Usage: "display name of a newly issued token"},
					&cli.StringFlag{Name: "scope", Usage: "scope of a newly issued token"},
				},
				Action: getPATAction,
			},
			{
				Name:   "oauth2",
				Usage:  "OAuth2 access token (global unless --uri is given)",
				Flags:  []cli.Flag{uriFlag(false), promptFlag()},
				Action: getOAuth2Action,
			},
		},
	}
}

func getCredentialAction(ctx context.Context, cmd *cli.Command) error {
	uri, behavior, err := secretArgs(cmd)
	if err != nil {
		return err
	}
	return withSession(ctx, cmd, func(s *session) error {
		cred, ok, err := s.app.Basic().Credential(ctx, uri, behavior)
		if err != nil {
			return err
		}
		if !ok {
			return errNoSecret
		}
		return writeOutput(cmd.Root().Writer, broker.CredentialResponse{Username: cred.Username, Password: cred.Password})
	})
}

func getPATAction(ctx context.Context, cmd *cli.Command) error {
	uri, behavior, err := secretArgs(cmd)
	if err != nil {
		return err
	}
	opts := auth.PATOptions{DisplayName: cmd.String("display-name"), Scope: cmd.String("scope")}

	return withSession(ctx, cmd, func(s *session) error {
		pat := s.app.PAT()
		if pat == nil {
			return errors.New("personal access tokens are not configured (pat.issue_url)")
		}

		var (
			tok   *secret.Token
			found bool
			err   error
		)
		if uri == nil {
			tok, found, err = pat.PersonalAccessToken(ctx, opts, behavior)
		} else {
			tok, found, err = pat.PersonalAccessTokenFor(ctx, uri, opts, behavior)
		}
		if err != nil {
			return err
		}
		if !found {
			return errNoSecret
		}
		return writeOutput(cmd.Root().Writer, broker.TokenResponse{Token: tok.Value, Type: string(tok.Type)})
	})
}

func getOAuth2Action(ctx context.Context, cmd *cli.Command) error {
	uri, behavior, err := secretArgs(cmd)
	if err != nil {
		return err
	}
	return withSession(ctx, cmd, func(s *session) error {
		oauth := s.app.OAuth2()
		if oauth == nil {
			return errors.New("oauth2 is not configured (oauth.client_id)")
		}

		var (
			pair  *secret.TokenPair
			found bool
			err   error
		)
		if uri == nil {
			pair, found, err = oauth.OAuth2TokenPair(ctx, behavior)
		} else {
			pair, found, err = oauth.OAuth2TokenPairFor(ctx, uri, behavior)
		}
		if err != nil {
			return err
		}
		if !found {
			return errNoSecret
		}
		return writeOutput(cmd.Root().Writer, broker.OAuth2TokenResponse{AccessToken: pair.AccessToken, Expiry: pair.Expiry})
	})
}

func signOutCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-out",
		Usage: "remove a cached secret",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "auth",
				Usage:    fmt.Sprintf("auth type (%s|%s|%s)", auth.AuthTypeBasic, auth.AuthTypeOAuth2, auth.AuthTypePAT),
				Required: true,
			},
			uriFlag(false),
		},
		Action: signOutAction,
	}
}

func signOutAction(ctx context.Context, cmd *cli.Command) error {
	var uri *url.URL
	if raw := cmd.String("uri"); raw != "" {
		parsed, err := keyconv.Parse(raw)
		if err != nil {
			return err
		}
		uri = parsed
	}

	return withSession(ctx, cmd, func(s *session) error {
		authType := cmd.String("auth")
		a, ok := s.app.Authenticator(authType)
		if !ok {
			return fmt.Errorf("unknown or unconfigured auth type: %s", authType)
		}

		var (
			removed bool
			err     error
		)
		if uri == nil {
			removed, err = a.SignOut(ctx)
		} else {
			removed, err = a.SignOutURI(ctx, uri)
		}
		if err != nil {
			return err
		}
		s.app.Metrics().ObserveSignOut(authType, removed)
		return writeOutput(cmd.Root().Writer, broker.SignOutResponse{SignedOut: removed})
	})
}

func assignPATCommand() *cli.Command {
	return &cli.Command{
		Name:   "assign-pat",
		Usage:  "reuse the global personal access token for a URI",
		Flags:  []cli.Flag{uriFlag(true)},
		Action: assignPATAction,
	}
}

func assignPATAction(ctx context.Context, cmd *cli.Command) error {
	uri, err := keyconv.Parse(cmd.String("uri"))
	if err != nil {
		return err
	}
	return withSession(ctx, cmd, func(s *session) error {
		pat := s.app.PAT()
		if pat == nil {
			return errors.New("personal access tokens are not configured (pat.issue_url)")
		}
		assigned, err := pat.AssignGlobalTo(ctx, uri)
		if err != nil {
			return err
		}
		if !assigned {
			return errors.New("no global personal access token to assign")
		}
		_, err = fmt.Fprintf(cmd.Root().Writer, "assigned global token to %s\n", uri)
		return err
	})
}

func storesCommand() *cli.Command {
	return &cli.Command{
		Name:  "stores",
		Usage: "list detected secret stores in priority order",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withSession(ctx, cmd, func(s *session) error {
				tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "KIND\tPRIORITY\tSTORE\tSECURE\tLOCATION")
				for _, info := range s.app.Provider().Describe() {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
						info.Kind, info.Priority, info.Name, strconv.FormatBool(info.Secure), info.Location)
				}
				return tw.Flush()
			})
		},
	}
}

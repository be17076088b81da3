// devtoken mints an identity credential for local testing of the comment
// channel. The secret and issuer default to the API's configuration.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"draftroom/api/internal/auth"
	"draftroom/api/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg := config.Load()

	var sub, name, email, secret, issuer string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&sub, "sub", "", "user id to put in the credential (required)")
	flagSet.StringVar(&name, "name", "", "display name")
	flagSet.StringVar(&email, "email", "", "email address")
	flagSet.DurationVar(&ttl, "ttl", time.Hour, "how long the credential stays valid")
	flagSet.StringVar(&secret, "secret", cfg.IdentitySecret, "HS256 signing secret")
	flagSet.StringVar(&issuer, "issuer", cfg.IdentityIssuer, "issuer claim")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if sub == "" {
		return errors.New("--sub is required")
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	token, err := auth.NewVerifier(secret, issuer).Issue(auth.Claims{Sub: sub, Name: name, Email: email}, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

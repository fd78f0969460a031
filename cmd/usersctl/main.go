// Command usersctl manages the accounts allowed to use the signaling relay.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	fs := pflag.NewFlagSet("usersctl", pflag.ContinueOnError)
	configEnv := fs.String("config-env", "", "config environment (config/config.<env>.yaml)")
	email := fs.String("email", "", "email for add (default <username>@example.com)")
	verified := fs.Bool("verified", false, "mark the account verified on add")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if *configEnv != "" {
		_ = os.Setenv("CONFIG_ENV", *configEnv)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	users, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open user store")
	}
	defer users.Close()

	cmd := command{users: users, out: os.Stdout, email: *email, verified: *verified}
	if err := cmd.run(ctx, fs.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		users.Close()
		os.Exit(1)
	}
}

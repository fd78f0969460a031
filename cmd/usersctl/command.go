package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dkeye/sigrelay/internal/auth"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/store"
)

const usage = `Usage: usersctl [--config-env env] <command> [args]

Commands:
  add <username>:<password>[:<email>] [--email e] [--verified]
  remove <username>
  list
  enable <username>
  disable <username>
  verify <username>
  unverify <username>
  passwd <username> <password>
`

var errUsage = errors.New("invalid arguments")

type command struct {
	users    store.UserStore
	out      io.Writer
	email    string
	verified bool
}

func (c *command) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, usage)
		return errUsage
	}
	name, rest := strings.ToLower(args[0]), args[1:]

	switch name {
	case "add":
		if len(rest) != 1 {
			return c.usageErr()
		}
		return c.add(ctx, rest[0])
	case "remove":
		if len(rest) != 1 {
			return c.usageErr()
		}
		if err := c.users.DeleteUser(ctx, rest[0]); err != nil {
			return c.userErr(rest[0], err)
		}
		fmt.Fprintf(c.out, "Successfully removed user '%s'\n", rest[0])
		return nil
	case "list":
		return c.list(ctx)
	case "enable", "disable":
		if len(rest) != 1 {
			return c.usageErr()
		}
		if err := c.users.SetActive(ctx, rest[0], name == "enable"); err != nil {
			return c.userErr(rest[0], err)
		}
		fmt.Fprintf(c.out, "User '%s' %sd\n", rest[0], name)
		return nil
	case "verify", "unverify":
		if len(rest) != 1 {
			return c.usageErr()
		}
		if err := c.users.SetVerified(ctx, rest[0], name == "verify"); err != nil {
			return c.userErr(rest[0], err)
		}
		state := "verified"
		if name == "unverify" {
			state = "unverified"
		}
		fmt.Fprintf(c.out, "User '%s' %s\n", rest[0], state)
		return nil
	case "passwd":
		if len(rest) != 2 {
			return c.usageErr()
		}
		hash, err := auth.HashPassword(rest[1])
		if err != nil {
			return err
		}
		if err := c.users.SetPassword(ctx, rest[0], hash); err != nil {
			return c.userErr(rest[0], err)
		}
		fmt.Fprintf(c.out, "Password updated for '%s'\n", rest[0])
		return nil
	case "help":
		fmt.Fprint(c.out, usage)
		return nil
	}
	fmt.Fprint(c.out, usage)
	return fmt.Errorf("unknown command %q", name)
}

func (c *command) add(ctx context.Context, userArg string) error {
	parts := strings.SplitN(userArg, ":", 3)
	if len(parts) < 2 {
		return errors.New("invalid format, use username:password")
	}
	username, password := parts[0], parts[1]
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}

	email := c.email
	if email == "" && len(parts) == 3 {
		email = parts[2]
	}
	if email == "" {
		email = username + "@example.com"
	}
	if len(email) > domain.MaxEmailLen {
		return errors.New("email too long")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	err = c.users.CreateUser(ctx, domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		Verified:     c.verified,
	})
	if errors.Is(err, store.ErrExists) {
		return fmt.Errorf("user '%s' already exists", username)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Successfully added user '%s' with email '%s'\n", username, email)
	return nil
}

func (c *command) list(ctx context.Context) error {
	users, err := c.users.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(c.out, "No users found")
		return nil
	}
	fmt.Fprintf(c.out, "Total users: %d\n", len(users))
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tEMAIL\tACTIVE\tVERIFIED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", u.Username, u.Email, u.Active, u.Verified)
	}
	return w.Flush()
}

func (c *command) usageErr() error {
	fmt.Fprint(c.out, usage)
	return errUsage
}

func (c *command) userErr(username string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user '%s' not found", username)
	}
	return err
}

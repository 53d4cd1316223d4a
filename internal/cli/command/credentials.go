package command

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/pkg/secret"
)

// PasswdCommand hashes a route password for cluster.authorization.password.
func PasswdCommand() *cli.Command {
	return &cli.Command{
		Name:      "passwd",
		Usage:     "hash a route password (argon2id) for cluster.authorization.password",
		ArgsUsage: "[password]",
		Description: "Without an argument the password is read from the first line of stdin,\n" +
			"e.g. `echo -n s3cret | routemesh-cli passwd`.",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "memory", Usage: "argon2 memory in KiB", Value: uint(secret.DefaultParams.Memory)},
			&cli.UintFlag{Name: "iterations", Usage: "argon2 time cost", Value: uint(secret.DefaultParams.Time)},
			&cli.UintFlag{Name: "threads", Usage: "argon2 parallelism", Value: uint(secret.DefaultParams.Threads)},
		},
		Action: passwdAction,
	}
}

func passwdAction(c *cli.Context) error {
	password := c.Args().First()
	if password == "" {
		line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
		if err != nil && line == "" {
			return cli.Exit("no password given", 2)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return cli.Exit("password must not be empty", 2)
	}

	p := secret.Params{
		Memory:  uint32(c.Uint("memory")),
		Time:    uint32(c.Uint("iterations")),
		Threads: uint8(c.Uint("threads")),
	}
	if p.Memory < 8*uint32(p.Threads) || p.Time == 0 || p.Threads == 0 {
		return cli.Exit("invalid argon2 parameters", 2)
	}

	hash, err := secret.HashPasswordWithParams(password, p)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

// GenTokenCommand prints a random route token for cluster.authorization.token.
func GenTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen-token",
		Usage: "generate a random route token for cluster.authorization.token",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "length", Usage: "random bytes", Value: secret.DefaultLength},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("length")
			if n < 16 || n > 256 {
				return cli.Exit("length must be between 16 and 256", 2)
			}
			token, err := secret.GenerateWithLength(n)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

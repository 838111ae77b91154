package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/greensec/rtauth/internal/userstore"
	"github.com/greensec/rtauth/password"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

// NewUserAddCmd creates the useradd subcommand. The password is read from
// stdin so it never appears in the process list.
func NewUserAddCmd(configFile *string) *cobra.Command {
	var (
		name          string
		role          string
		hashAlgorithm string
	)

	cmd := &cobra.Command{
		Use:   "useradd <identifier>",
		Short: "Register a user in the SQLite user store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := koanf.New(".")
			if *configFile != "" {
				if err := k.Load(file.Provider(*configFile), yaml.Parser()); err != nil {
					return fmt.Errorf("load %s: %w", *configFile, err)
				}
			}
			if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
				return err
			}

			plain, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hasher, err := password.New(hashAlgorithm)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(plain)
			if err != nil {
				return err
			}

			users, err := userstore.Open(cmd.Context(), k.String("database"))
			if err != nil {
				return fmt.Errorf("open user store: %w", err)
			}
			defer users.Close()

			rec, err := users.Create(cmd.Context(), userstore.NewUser{
				Identifier:   args[0],
				PasswordHash: hash,
				Name:         name,
				Role:         role,
			})
			if err != nil {
				return err
			}
			cmd.Printf("created user %s (principal %s, %s)\n", rec.Identifier, rec.PrincipalID, rec.Role)
			return nil
		},
	}

	cmd.Flags().String("database", defaultDatabase, "SQLite DSN for the user store")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "USER", "role, stored as ROLE_<role>")
	cmd.Flags().StringVar(&hashAlgorithm, "hash", "bcrypt", "password hash (bcrypt or argon2id)")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, password.MaxLength+2))
	if err != nil {
		return "", err
	}
	plain := strings.TrimRight(string(b), "\r\n")
	if plain == "" {
		return "", errors.New("password required on stdin")
	}
	return plain, nil
}

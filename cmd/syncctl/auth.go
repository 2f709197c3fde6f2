package main

import (
	"bufio"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/client/config"
	"github.com/foldersync/foldersync/internal/client/credstore"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the sync server",
		Long: `Authenticate with the sync server using a username and password.

Prompts for credentials interactively (password entry is hidden); both
can also be supplied via --username and a SYNCCTL_PASSWORD environment
variable for non-interactive use. The resulting token pair is saved to
the credential file for subsequent commands to reuse.`,
		RunE: runLogin,
	}

	cmd.Flags().String("username", "", "account username")
	cmd.Flags().Bool("register", false, "create the account before logging in")
	cmd.Flags().String("email", "", "email address, required with --register")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the saved session",
		Long:  "Invalidate the current session on the server and remove the local credential file.",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return err
	}

	if username == "" {
		username, err = promptLine("Username: ")
		if err != nil {
			return err
		}
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	client := apiclient.New(cfg.Server.URL, defaultHTTPClient(), nil, logger)

	register, err := cmd.Flags().GetBool("register")
	if err != nil {
		return err
	}

	if register {
		email, emailErr := cmd.Flags().GetString("email")
		if emailErr != nil {
			return emailErr
		}

		if email == "" {
			return fmt.Errorf("--email is required with --register")
		}

		if err := client.Register(cmd.Context(), username, email, password); err != nil {
			return fmt.Errorf("registering account: %w", err)
		}

		statusf("Account %s created.\n", username)
	}

	pair, err := client.Login(cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	credPath := config.DefaultCredentialPath()

	creds := &credstore.File{
		Username:     username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second),
	}

	if err := credstore.Save(credPath, creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	statusf("Logged in as %s.\n", username)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	credPath := config.DefaultCredentialPath()

	creds, err := credstore.Load(credPath)
	if err != nil {
		return err
	}

	if creds != nil {
		authClient := apiclient.New(cfg.Server.URL, defaultHTTPClient(), nil, logger)
		ts := credstore.NewTokenSource(credPath, creds, authClient, logger)
		client := apiclient.New(cfg.Server.URL, defaultHTTPClient(), ts, logger)

		if err := client.Logout(cmd.Context()); err != nil {
			logger.Warn("server-side logout failed, removing local credentials anyway", "error", err.Error())
		}
	}

	if err := credstore.Remove(credPath); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return trimNewline(line), nil
}

func readPassword() (string, error) {
	if env := os.Getenv("SYNCCTL_PASSWORD"); env != "" {
		return env, nil
	}

	fmt.Print("Password: ")

	pw, err := term.ReadPassword(int(syscall.Stdin))

	fmt.Println()

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(pw), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}

	return s
}

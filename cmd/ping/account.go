package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pingchat/internal/chat"
	"pingchat/internal/db"
)

var stdin = bufio.NewReader(os.Stdin)

var registerCmd = &cobra.Command{
	Use:   "register [username]",
	Short: "Create an account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and remember the session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored session",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runRegister(cmd *cobra.Command, args []string) error {
	username, password, err := credentials(args)
	if err != nil {
		return err
	}
	c, err := openClient(nil)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.app.Register(cmd.Context(), username, password); err != nil {
		return fmt.Errorf("register: %s", chat.Describe(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "account %q created, run `ping login %s` to sign in\n", username, username)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	username, password, err := credentials(args)
	if err != nil {
		return err
	}
	c, err := openClient(nil)
	if err != nil {
		return err
	}
	defer c.close()

	user, err := c.app.Login(cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("login: %s", chat.Describe(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (id %d)\n", user.Username, user.ID)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	c, err := openClient(nil)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.app.Logout(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	store, err := db.NewDB(cfg.CleanDatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.Restore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if user == nil {
		fmt.Fprintln(out, "not logged in")
		return nil
	}
	fmt.Fprintf(out, "%s (id %d)\n", user.Username, user.ID)
	if exp, ok := user.TokenExpiry(); ok {
		state := "valid"
		if time.Now().After(exp) {
			state = "expired"
		}
		fmt.Fprintf(out, "token %s until %s\n", state, exp.Local().Format(time.RFC1123))
	}
	return nil
}

// credentials reads the username (unless given as an argument) and the
// password from stdin.
func credentials(args []string) (string, string, error) {
	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("username: ")
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	fmt.Print("password: ")
	password, err := readPassword()
	if err != nil {
		return "", "", fmt.Errorf("read password: %w", err)
	}
	return username, password, nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		return string(b), err
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

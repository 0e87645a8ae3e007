package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// readPassword reads a password line from stdin. Echo suppression is left
// to the terminal; piping a password in is supported for scripting.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and persist the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		login, err := client.Users().Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		store := getStore()
		if err := store.CreateSession(login.UserID); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		if login.Picture != "" {
			_ = store.SetItem("profilePicture", login.Picture)
		}
		_ = store.SetItem("username", args[0])

		fmt.Printf("Logged in as %s (%s)\n", args[0], login.UserID)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and log in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		login, err := client.Users().Register(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		store := getStore()
		if err := store.CreateSession(login.UserID); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		_ = store.SetItem("username", args[0])

		fmt.Printf("Registered and logged in as %s (%s)\n", args[0], login.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		if err := store.Clear(); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)

		var username string
		if ok, _ := store.GetItem("username", &username); ok {
			fmt.Printf("%s (%s)\n", username, userID)
			return nil
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if user, err := client.Users().Get(ctx, userID); err == nil {
			fmt.Printf("%s (%s)\n", user.Username, userID)
			return nil
		}
		fmt.Println(userID)
		return nil
	},
}

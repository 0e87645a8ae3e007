package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	accountCmd.AddCommand(accountPictureCmd)
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage your account",
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Permanently delete your account",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)

		fmt.Print("This permanently deletes your account. Type 'delete' to confirm: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) != "delete" {
			fmt.Println("Aborted.")
			return nil
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Users().Delete(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if err := store.Clear(); err != nil {
			return fmt.Errorf("account deleted but failed to clear session: %w", err)
		}
		fmt.Println("Account deleted.")
		return nil
	},
}

var accountPictureCmd = &cobra.Command{
	Use:   "picture <file>",
	Short: "Upload a profile picture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		path, err := client.Users().UpdateProfilePicture(ctx, userID, filepath.Base(args[0]), data)
		if err != nil {
			return fmt.Errorf("failed to update profile picture: %w", err)
		}
		_ = store.SetItem("profilePicture", path)
		fmt.Printf("Updated profile picture: %s\n", path)
		return nil
	},
}

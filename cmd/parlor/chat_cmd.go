package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	parlor "github.com/parlorchat/parlor-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <group-name>",
	Short: "Open a realtime chat in a group",
	Long: `Connect to the realtime server, join the named group, and chat.

Inbound messages stream to stdout. Lines you type are sent to the room.
Commands: /members lists the room members, /leave leaves the group, /quit exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		requireUser(store)
		client := getClient()

		session := parlor.NewChatSession(client, store)
		defer client.Realtime().Disconnect()

		client.Realtime().OnDisconnected(func(reason string) {
			fmt.Fprintf(os.Stderr, "\nDisconnected from server: %s\n", reason)
			os.Exit(1)
		})

		ctx := context.Background()
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := session.Start(startCtx); err != nil {
			return fmt.Errorf("failed to start chat session: %w", err)
		}

		var target *parlor.Group
		for _, g := range session.Groups() {
			if strings.EqualFold(g.Name, args[0]) {
				g := g
				target = &g
				break
			}
		}
		if target == nil {
			return fmt.Errorf("you are not a member of a group named %q", args[0])
		}

		session.OnMessage(func(msg parlor.Message) {
			printMessage(session, msg)
		})

		selectCtx, cancelSelect := context.WithTimeout(ctx, 30*time.Second)
		defer cancelSelect()
		if err := session.SelectRoom(selectCtx, target.ID); err != nil {
			return fmt.Errorf("failed to join room: %w", err)
		}

		snap := session.Snapshot()
		fmt.Printf("── %s ── %d member(s), %d message(s)\n", target.Name, len(snap.Members), len(snap.Messages))
		for _, msg := range snap.Messages {
			printMessage(session, msg)
		}

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/members":
				for _, id := range session.Snapshot().Members {
					fmt.Printf("  %s\n", displayName(session, id))
				}
			case line == "/leave":
				if err := session.LeaveGroup(ctx, target.ID); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to leave group: %v\n", err)
					continue
				}
				fmt.Printf("Left %q\n", target.Name)
				return nil
			default:
				if err := session.SendMessage(ctx, line); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to send message: %v\n", err)
				}
			}
		}
		return scanner.Err()
	},
}

func printMessage(session *parlor.ChatSession, msg parlor.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, displayName(session, msg.SenderID), msg.Content)
}

// displayName prefers the cached identity; resolution for unknown senders
// is already in flight, so fall back to the raw id rather than block.
func displayName(session *parlor.ChatSession, userID string) string {
	if userID == session.UserID() && session.Username() != "" {
		return session.Username()
	}
	if id, ok := session.Directory().Lookup(userID); ok {
		return id.DisplayName
	}
	return userID
}

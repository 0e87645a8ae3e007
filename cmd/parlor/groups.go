package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	parlor "github.com/parlorchat/parlor-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsCreateCmd)
	groupsCmd.AddCommand(groupsJoinCmd)
	groupsCmd.AddCommand(groupsLeaveCmd)
	groupsCmd.AddCommand(groupsPrivateCmd)
	groupsCmd.AddCommand(groupsPublicCmd)
	groupsCmd.AddCommand(groupsPictureCmd)
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage your groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the groups you are a member of",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		groups, err := client.Groups().ForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to fetch groups: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No groups yet. Create one with 'parlor groups create <name>'.")
			return nil
		}
		for _, g := range groups {
			visibility := "public"
			if g.IsPrivate {
				visibility = "private"
			}
			fmt.Printf("%-24s  %-8s  %d member(s)  [%s]\n", g.Name, visibility, len(g.MemberIDs), g.ID)
		}
		return nil
	},
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		group, err := client.Groups().Create(ctx, args[0], userID)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		fmt.Printf("Created group %q (%s)\n", group.Name, group.ID)
		return nil
	},
}

var groupsJoinCmd = &cobra.Command{
	Use:   "join <name>",
	Short: "Join an existing group by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		group, err := client.Groups().JoinByName(ctx, userID, args[0])
		if err != nil {
			return fmt.Errorf("failed to join group: %w", err)
		}
		fmt.Printf("Joined group %q (%s)\n", group.Name, group.ID)
		return nil
	},
}

var groupsLeaveCmd = &cobra.Command{
	Use:   "leave <name>",
	Short: "Leave a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		group, err := findGroupByName(ctx, client, userID, args[0])
		if err != nil {
			return err
		}
		if err := client.Groups().Leave(ctx, group.ID, userID); err != nil {
			return fmt.Errorf("failed to leave group: %w", err)
		}
		fmt.Printf("Left group %q\n", group.Name)
		return nil
	},
}

var groupsPrivateCmd = &cobra.Command{
	Use:   "private <name>",
	Short: "Make a group private",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPrivacy(args[0], true) },
}

var groupsPublicCmd = &cobra.Command{
	Use:   "public <name>",
	Short: "Make a group public",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPrivacy(args[0], false) },
}

var groupsPictureCmd = &cobra.Command{
	Use:   "picture <name> <file>",
	Short: "Upload a group picture",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		userID := requireUser(store)
		client := getClient()

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		group, err := findGroupByName(ctx, client, userID, args[0])
		if err != nil {
			return err
		}
		path, err := client.Groups().UpdatePicture(ctx, group.ID, filepath.Base(args[1]), data)
		if err != nil {
			return fmt.Errorf("failed to update group picture: %w", err)
		}
		fmt.Printf("Updated picture for %q: %s\n", group.Name, path)
		return nil
	},
}

func setPrivacy(name string, private bool) error {
	store := getStore()
	userID := requireUser(store)
	client := getClient()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	group, err := findGroupByName(ctx, client, userID, name)
	if err != nil {
		return err
	}

	if private {
		_, err = client.Groups().MakePrivate(ctx, group.ID)
	} else {
		_, err = client.Groups().MakePublic(ctx, group.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update group privacy: %w", err)
	}

	visibility := "public"
	if private {
		visibility = "private"
	}
	fmt.Printf("Group %q is now %s\n", group.Name, visibility)
	return nil
}

// findGroupByName resolves a member group by its display name.
func findGroupByName(ctx context.Context, client *parlor.Client, userID, name string) (*parlor.Group, error) {
	groups, err := client.Groups().ForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}
	for i := range groups {
		if strings.EqualFold(groups[i].Name, name) {
			return &groups[i], nil
		}
	}
	return nil, fmt.Errorf("you are not a member of a group named %q", name)
}

package main

import (
	"fmt"
	"os"
	"time"

	parlor "github.com/parlorchat/parlor-go"
	"go.uber.org/zap"
)

// getClient creates a Parlor client from the stored configuration.
func getClient() *parlor.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []parlor.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, parlor.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.JoinTimeout != "" {
		if d, err := time.ParseDuration(cfg.Default.JoinTimeout); err == nil {
			opts = append(opts, parlor.WithJoinTimeout(d))
		}
	}
	if verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			opts = append(opts, parlor.WithLogger(log))
		}
	}

	return parlor.NewClient(opts...)
}

// getStore opens the persisted session store under ~/.parlor.
func getStore() *parlor.SessionStore {
	path, err := sessionPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate session: %v\n", err)
		os.Exit(1)
	}
	store, err := parlor.NewSessionStore(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session: %v\n", err)
		os.Exit(1)
	}
	return store
}

// requireUser returns the logged-in user id or exits with guidance.
func requireUser(store *parlor.SessionStore) string {
	userID := store.UserID()
	if userID == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'parlor login <username>' first.")
		os.Exit(1)
	}
	return userID
}

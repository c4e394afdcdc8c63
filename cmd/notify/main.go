// Command notify sends a notification to every device of a user through the
// backend API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"bloodlink-push/client"
	"bloodlink-push/config"
	"bloodlink-push/logging"
	"bloodlink-push/push"
)

func main() {
	_ = godotenv.Load()

	backendURL := flag.String("backend", config.BackendURL(), "Backend base URL")
	token := flag.String("token", os.Getenv("BLOODLINK_TOKEN"), "Dispatcher token (see token-gen)")
	user := flag.String("user", "", "Recipient user id")
	title := flag.String("title", "", "Notification title")
	body := flag.String("body", "", "Notification body")
	url := flag.String("url", "", "Url opened when the notification is clicked")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger, flush := logging.New(*debug)
	defer flush()

	if *user == "" || *title == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: notify -token <jwt> -user <id> -title <title> [-body <text>] [-url /path]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend := client.NewHTTPBackend(*backendURL, *token)
	report, err := backend.Send(ctx, *user, push.Notification{
		Title: *title,
		Body:  *body,
		URL:   *url,
	})
	if err != nil {
		logger.Errorw("send failed", "backend", *backendURL, "user", *user, "error", err)
		flush()
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Attempted > 0 && report.Delivered == 0 {
		os.Exit(1)
	}
}

// Command resolve-kick-channels checks that Kick channel names or URLs
// resolve to a live chatroom before they go into the config.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/john/chatfeed/internal/service/kick"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: resolve-kick-channels <channel-or-url> [more] ...")
		fmt.Println("\nExample:")
		fmt.Println("  resolve-kick-channels xqc https://kick.com/paymoneywubby")
		os.Exit(1)
	}

	ctx := context.Background()
	client := kick.NewHTTPClient()

	failed := false
	for _, raw := range os.Args[1:] {
		slug := kick.ExtractChannelSlug(raw)
		if slug == "" {
			fmt.Printf("✗ %s: not a valid channel name or kick.com URL\n", raw)
			failed = true
			continue
		}

		chatroomID, err := kick.ResolveChatroomID(ctx, client, slug)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", slug, err)
			failed = true
			continue
		}

		fmt.Printf("✓ %s: chatroom %s\n", slug, chatroomID)
	}

	if failed {
		os.Exit(1)
	}
}

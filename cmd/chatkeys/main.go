// Command chatkeys is the offline chat-key integrity repair utility. It
// scans every chat, reports rows whose stored key no longer equals the
// derivation from their participant ids, and rewrites them when -fix is set.
// Request handling only ever logs these mismatches; repair happens here.
package main

import (
	"context"
	"flag"
	"log"

	"telecare-chat/config"
	"telecare-chat/internal/domain/chat"
	"telecare-chat/internal/repository"
	"telecare-chat/pkg/database"
)

const batchSize = 500

func main() {
	fix := flag.Bool("fix", false, "rewrite mismatched chat keys instead of only reporting them")
	flag.Parse()

	cfg := config.LoadConfig()
	database.Connect(cfg)

	chats := repository.NewChatRepository(database.DB)
	ctx := context.Background()

	var scanned, mismatched, repaired int
	for offset := 0; ; offset += batchSize {
		batch, err := chats.ListChats(ctx, offset, batchSize)
		if err != nil {
			log.Fatalf("Failed to list chats: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		scanned += len(batch)

		for _, c := range batch {
			if c.KeyMatches() {
				continue
			}
			mismatched++
			expected := chat.DeriveChatKey(c.UserID, c.DoctorID)
			log.Printf("chat %s: key %q, expected %q", c.ID, c.ChatKey, expected)

			if !*fix {
				continue
			}
			if err := chats.UpdateChatKey(ctx, c.ID, expected); err != nil {
				log.Printf("chat %s: repair failed: %v", c.ID, err)
				continue
			}
			repaired++
		}
	}

	log.Printf("scanned=%d mismatched=%d repaired=%d", scanned, mismatched, repaired)
}

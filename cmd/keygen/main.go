// Package main is a utility for generating API keys and their HMAC digests.
// The API stores only keyed digests of API keys — never the raw key values —
// so this tool is used when manually seeding or verifying api_keys records in
// the database without running the full server. The digest depends on
// TS_API_KEY_SECRET, so run it with the same secret the server uses.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/third-space/third-space-api/internal/auth"
)

func main() {
	prefix := flag.String("prefix", "ts_live_", "prefix prepended to the generated key")
	flag.Parse()

	if err := auth.ValidateAPIKeySecret(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	key, digest, displayPrefix, err := auth.GenerateAPIKey(*prefix)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Key:            %s\n", key)
	fmt.Printf("Display prefix: %s\n", displayPrefix)
	fmt.Printf("Digest:         %s\n", digest)
}

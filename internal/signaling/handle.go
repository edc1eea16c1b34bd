package signaling

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
)

// Handles read like "sleepy-otter-comet". They are unique among connected
// users and carry no identity beyond the connection.
var (
	moods = []string{
		"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
		"golden", "silver", "crimson", "emerald", "purple", "brave", "calm", "swift", "silent", "noisy",
		"bouncy", "fuzzy", "plucky", "merry", "peppy", "gentle", "bright", "lucky", "mellow", "zesty",
	}

	creatures = []string{
		"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
		"duckling", "fawn", "lamb", "raccoon", "ferret", "beaver", "seahorse", "dolphin", "narwhal", "penguin",
		"flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary", "dragon", "griffin", "phoenix",
	}

	things = []string{
		"sunbeam", "stardust", "pepper", "muffin", "bubble", "sprout", "glimmer", "echo", "jelly", "marble",
		"maple", "cocoa", "breeze", "meadow", "willow", "ember", "poppy", "pixel", "biscuit", "nugget",
		"toffee", "lantern", "puddle", "pebble", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
	}
)

// maxHandleAttempts bounds the word search before falling back to a UUID.
const maxHandleAttempts = 64

// generateHandle picks a word handle that taken does not report as in use.
func generateHandle(taken func(string) bool) string {
	for i := 0; i < maxHandleAttempts; i++ {
		id := fmt.Sprintf("%s-%s-%s",
			moods[randomIndex(len(moods))],
			creatures[randomIndex(len(creatures))],
			things[randomIndex(len(things))],
		)
		if !taken(id) {
			return id
		}
	}
	return uuid.NewString()
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		slog.Error("random source failed", "err", err)
		return 0
	}
	return int(n.Int64())
}

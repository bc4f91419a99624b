package presence

import (
	"fmt"
	"hash/fnv"
)

// ColorForClient deterministically derives an HSL color string from
// clientId, so every replica renders the same peer with the same hue
// without negotiation.
func ColorForClient(clientID string) string {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	hue := h.Sum32() % 360
	return fmt.Sprintf("hsl(%d, 65%%, 55%%)", hue)
}

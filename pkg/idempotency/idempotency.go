package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const Header = "Idempotency-Key"

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

type Line struct {
	ProductID string
	Quantity  int
}

// Derive builds a checkout key from the customer email, the cart and the
// coupon. Line order and email case do not matter; quantities are summed
// per product.
func Derive(email string, lines []Line, couponCode string) string {
	qty := make(map[string]int, len(lines))
	for _, l := range lines {
		qty[strings.TrimSpace(l.ProductID)] += l.Quantity
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", strings.ToLower(strings.TrimSpace(email)), couponCode)
	for _, id := range ids {
		fmt.Fprintf(h, "%s:%d\n", id, qty[id])
	}
	return "chk_" + hex.EncodeToString(h.Sum(nil))[:32]
}

package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

// Summary is the plain-text fulfillment email body.
func Summary(order models.Order, outcome *Outcome, deliveryURL string, expiresAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s\n\n", order.Name)
	b.WriteString("Thank you for your purchase. Here is what we could deliver right away:\n\n")

	sections := make([]string, 0, len(outcome.Lines))
	for _, lo := range outcome.Lines {
		sections = append(sections, lineSummary(lo))
	}
	b.WriteString(strings.Join(sections, "\n\n"))

	fmt.Fprintf(&b, "\n\nYour delivery page: %s\n", deliveryURL)
	fmt.Fprintf(&b, "The link is valid until %s.\n", expiresAt.UTC().Format("2006-01-02 15:04 MST"))
	if outcome.Partial() {
		b.WriteString("\nSome items are not available yet. We'll deliver them shortly; you can reach us through the chat on your delivery page.\n")
	}
	return b.String()
}

func lineSummary(lo LineOutcome) string {
	title := lo.Item.Title
	if lo.Delivered() == 0 {
		if lo.Item.Category.UsesCredentialPool() {
			return title + ": No accounts available yet."
		}
		return title + ": No keys available yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d/%d):", title, lo.Delivered(), lo.Line.Quantity)
	for _, k := range lo.Keys {
		b.WriteString("\n" + k.Secret)
	}
	for i, c := range lo.Credentials {
		if len(lo.Credentials) > 1 {
			fmt.Fprintf(&b, "\nAccount %d", i+1)
		}
		fmt.Fprintf(&b, "\nUsername: %s\nPassword: %s", c.Username, c.Password)
		if c.Notes != "" {
			fmt.Fprintf(&b, "\nNotes: %s", c.Notes)
		}
	}
	if lo.Item.Instructions != "" {
		b.WriteString("\n" + lo.Item.Instructions)
	}
	return b.String()
}

package notify

import (
	"fmt"
	"strings"
)

// pickupLabel renders when the customer collects the order.
func pickupLabel(j Job) string {
	if j.Immediate() {
		return "today, as soon as it is ready"
	}
	return j.DeliveryDate + " " + j.DeliveryTime
}

func writeLines(b *strings.Builder, j Job) {
	for _, l := range j.Lines {
		fmt.Fprintf(b, "- %s (%s) x %s", l.GoodName, l.CutName, l.Quantity)
		if l.Size != "" {
			fmt.Fprintf(b, " %s", l.Size)
		}
		fmt.Fprintf(b, " ~%s kg: %s\n", l.WeightKg, l.LineTotal)
	}
}

func writeTotals(b *strings.Builder, j Job) {
	if j.CouponCode != "" {
		fmt.Fprintf(b, "Subtotal: %s\nCoupon %s: -%s\n", j.Subtotal, j.CouponCode, j.DiscountAmount)
	}
	fmt.Fprintf(b, "Estimated total: %s\n", j.Total)
}

// CustomerMessage is the confirmation sent to the customer.
func CustomerMessage(j Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, your order %s is confirmed.\n", j.CustomerName, shortID(j.OrderID))
	fmt.Fprintf(&b, "Pickup: %s\n\n", pickupLabel(j))
	writeLines(&b, j)
	b.WriteString("\n")
	writeTotals(&b, j)
	b.WriteString("The final price is set after weighing.")
	return b.String()
}

// OperatorMessage is the new-order alert sent to store staff.
func OperatorMessage(j Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New order %s\n", shortID(j.OrderID))
	fmt.Fprintf(&b, "Customer: %s (%s)\n", j.CustomerName, j.CustomerPhone)
	fmt.Fprintf(&b, "Pickup: %s\n", pickupLabel(j))
	if j.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", j.Notes)
	}
	if j.StockShortfall {
		b.WriteString("WARNING: ordered beyond recorded stock\n")
	}
	b.WriteString("\n")
	writeLines(&b, j)
	writeTotals(&b, j)
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}

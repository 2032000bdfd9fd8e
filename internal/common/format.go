package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultWidth = 80
	WideWidth    = 100
)

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints title framed by '=' rules.
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the tree prefix for a list item.
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatKWh renders an energy quantity at the ledger scale.
func FormatKWh(amount decimal.Decimal) string {
	return amount.StringFixed(2) + " kWh"
}

// ShortId truncates long identifiers for tabular output.
func ShortId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

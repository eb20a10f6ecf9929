// ABOUTME: Classifies inbound text as a whitelisted command or freeform input.
// ABOUTME: Also extracts monetary amounts from prompt replies like "KES 1,000".

package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Command is a recognized keyword.
type Command string

const (
	None      Command = ""
	Balance   Command = "balance"
	Load      Command = "load"
	Withdraw  Command = "withdraw"
	History   Command = "history"
	Language  Command = "language"
	Price     Command = "price"
	Education Command = "education"
	Help      Command = "help"

	// Flow-control keywords.
	Start  Command = "start"
	Cancel Command = "cancel"
	Logout Command = "logout"
)

// keywords maps lowercase input to its command. Aliases share a command.
var keywords = map[string]Command{
	"balance":   Balance,
	"load":      Load,
	"save":      Load,
	"deposit":   Load,
	"withdraw":  Withdraw,
	"history":   History,
	"language":  Language,
	"price":     Price,
	"education": Education,
	"help":      Help,
	"/start":    Start,
	"start":     Start,
	"hi":        Start,
	"hello":     Start,
	"mambo":     Start,
	"cancel":    Cancel,
	"logout":    Logout,
	"/logout":   Logout,
}

// RequiresAuth reports whether the command needs a signed-in account.
func (c Command) RequiresAuth() bool {
	switch c {
	case Balance, Load, Withdraw, History:
		return true
	}
	return false
}

// Input is the parsed form of one inbound message.
type Input struct {
	Command Command
	// Amount is set when a command carried an inline amount ("load 500").
	Amount float64
	// Text is the trimmed original text, passed through verbatim for freeform input.
	Text string
}

// Freeform reports whether the input matched no command.
func (in Input) Freeform() bool { return in.Command == None }

// Empty reports whether the message had no content.
func (in Input) Empty() bool { return in.Text == "" }

// Parse classifies text. Matching is case-insensitive and exact on the
// whole message; only load and withdraw accept a trailing amount.
func Parse(text string) Input {
	trimmed := strings.TrimSpace(text)
	in := Input{Text: trimmed}
	if trimmed == "" {
		return in
	}

	lower := strings.ToLower(trimmed)
	if cmd, ok := keywords[lower]; ok {
		in.Command = cmd
		return in
	}

	word, rest, found := strings.Cut(lower, " ")
	if !found {
		return in
	}
	cmd, ok := keywords[word]
	if !ok || (cmd != Load && cmd != Withdraw) {
		return in
	}
	if amount, ok := ExtractAmount(rest); ok {
		in.Command = cmd
		in.Amount = amount
	}
	return in
}

var (
	amountPattern  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	thousandsComma = regexp.MustCompile(`(\d),(\d{3})`)
)

// ExtractAmount finds the first number in text and reports whether it is
// a positive amount. Thousands separators are ignored.
func ExtractAmount(text string) (float64, bool) {
	cleaned := text
	for thousandsComma.MatchString(cleaned) {
		cleaned = thousandsComma.ReplaceAllString(cleaned, "$1$2")
	}
	m := amountPattern.FindString(cleaned)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

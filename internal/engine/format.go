// ABOUTME: Renders wallet, price and assistant results as chat replies.
// ABOUTME: Amounts use the same grouping as the state machine prompts.

package engine

import (
	"fmt"
	"strings"

	"github.com/bitsacco/sacco-gateway/internal/ai"
	"github.com/bitsacco/sacco-gateway/internal/fsm"
	"github.com/bitsacco/sacco-gateway/internal/session"
	"github.com/bitsacco/sacco-gateway/internal/wallet"
)

func formatBalance(b *wallet.Balance, currency string) string {
	if b.Currency != "" {
		currency = b.Currency
	}
	s := fmt.Sprintf("💰 *Your Balance*\n\n%s %s", currency, fsm.FormatAmount(b.Amount))
	if b.BTC != nil {
		s += fmt.Sprintf("\n₿ %.8f BTC", *b.BTC)
	}
	return s
}

func formatHistory(txs []wallet.Transaction, currency string) string {
	if len(txs) == 0 {
		return fsm.MsgNoTransactions
	}
	var sb strings.Builder
	sb.WriteString("📊 *Recent Transactions*\n")
	for i, tx := range txs {
		if i == historyEntries {
			break
		}
		date := "----------"
		if !tx.Date.IsZero() {
			date = tx.Date.Format("2006-01-02")
		}
		cur := tx.Currency
		if cur == "" {
			cur = currency
		}
		fmt.Fprintf(&sb, "\n%s • %s %s %s", date, tx.Type, cur, fsm.FormatAmount(tx.Amount))
		if tx.Status != "" {
			fmt.Fprintf(&sb, " (%s)", tx.Status)
		}
	}
	return sb.String()
}

func methodLabel(method string) string {
	switch method {
	case fsm.MethodMpesa:
		return "M-Pesa"
	case fsm.MethodBank:
		return "bank transfer"
	case fsm.MethodCard:
		return "card"
	}
	return method
}

func formatLoad(r *wallet.LoadResult, amount float64, method, currency string) string {
	s := fmt.Sprintf("✅ Load of %s %s via %s started.", currency, fsm.FormatAmount(amount), methodLabel(method))
	if r.Instructions != "" {
		s += "\n\n" + r.Instructions
	}
	if r.TransactionID != "" {
		s += "\n\nReference: " + r.TransactionID
	}
	return s
}

func formatWithdraw(r *wallet.WithdrawResult, amount float64, currency string) string {
	s := fmt.Sprintf("✅ Withdrawal of %s %s requested.", currency, fsm.FormatAmount(amount))
	if r.Message != "" {
		s += "\n\n" + r.Message
	}
	if r.TransactionID != "" {
		s += "\n\nReference: " + r.TransactionID
	}
	return s
}

func formatPrice(price float64, currency string) string {
	return fmt.Sprintf("₿ *Bitcoin Price*\n\n1 BTC = %s %s", strings.ToUpper(currency), fsm.FormatAmount(price))
}

func formatDeclined(op fsm.WalletOp, reason string) string {
	if reason == "" {
		reason = "request not accepted"
	}
	noun := string(op)
	switch op {
	case fsm.OpLoad:
		noun = "deposit"
	case fsm.OpWithdraw:
		noun = "withdrawal"
	}
	return fmt.Sprintf("❌ Your %s was declined: %s.", noun, strings.TrimSuffix(reason, "."))
}

// declinedHint tells a user left at a prompt how to carry on.
func declinedHint(state session.State) string {
	switch state {
	case session.StateAwaitingLoadAmount, session.StateAwaitingWithdrawAmount:
		return "Enter a different amount or type *cancel*."
	case session.StateAwaitingLoadMethod:
		return "Choose another payment method or type *cancel*."
	}
	return ""
}

// joinReplies concatenates non-empty replies with a blank line between them.
func joinReplies(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// audioAttachment turns synthesized speech into an outbound attachment.
func audioAttachment(r *ai.Reply) (Attachment, bool) {
	mimeType := r.AudioMIME
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	switch {
	case len(r.Audio) > 0:
		return Attachment{Filename: "reply" + audioExt(mimeType), MIMEType: mimeType, Data: r.Audio}, true
	case r.AudioURL != "":
		return Attachment{Filename: "reply" + audioExt(mimeType), MIMEType: mimeType, URL: r.AudioURL}, true
	}
	return Attachment{}, false
}

func audioExt(mimeType string) string {
	switch mimeType {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	return ".mp3"
}

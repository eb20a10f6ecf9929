// ABOUTME: User-facing reply texts emitted by the state machine and engine.
// ABOUTME: Kept in one place so channel adapters render the same wording everywhere.

package fsm

import "fmt"

const (
	MsgWelcome = "🏦 *Welcome to Bitsacco SACCO!*\n\n" +
		"Save in Bitcoin straight from M-Pesa.\n\n" +
		"To get started, send the phone number registered with Bitsacco (e.g. 0712345678 or +254712345678)."

	MsgSignInFirst  = "🔒 Please sign in first."
	MsgPhonePrompt  = "Send your phone number to continue (e.g. 0712345678)."
	MsgInvalidPhone = "❌ That doesn't look like a valid phone number. Include the country code, e.g. +254712345678."
	MsgOTPPrompt    = "Enter the 6-digit code we sent you."
	MsgInvalidOTP   = "❌ Please enter a valid 6-digit OTP."
	MsgWrongOTP     = "❌ Invalid OTP. Please try again."
	MsgOTPLimited   = "⏳ Too many attempts. Please wait a few minutes before trying again."

	MsgSignedIn = "✅ *Signed in!*\n\n" +
		"• *balance* - your savings\n" +
		"• *load* - add money\n" +
		"• *withdraw* - take money out\n" +
		"• *history* - recent transactions\n" +
		"• *price* - current Bitcoin price\n" +
		"• *help* - all commands"

	MsgWelcomeBack     = "👋 Welcome back! Type *help* to see what I can do."
	MsgAlreadySignedIn = "✅ You're already signed in. Type *help* to see what I can do."

	MsgHelp = "🏦 *Bitsacco Commands*\n\n" +
		"• *balance* - check your savings\n" +
		"• *load* or *save 1000* - add money\n" +
		"• *withdraw* - withdraw to M-Pesa\n" +
		"• *history* - recent transactions\n" +
		"• *price* - current Bitcoin price\n" +
		"• *education* - learn about saving in Bitcoin\n" +
		"• *language* - language options\n" +
		"• *logout* - sign out"

	MsgGuestHelp = "🏦 *Bitsacco*\n\n" +
		"Sign in with your phone number to check balances and move money.\n" +
		"You can ask for the *price* or *education* any time."

	MsgEducation = "📚 *Saving in Bitcoin*\n\n" +
		"• Bitcoin is divided into 100,000,000 satoshis, so you can save small amounts.\n" +
		"• Saving a fixed amount regularly smooths out price swings.\n" +
		"• Your SACCO keeps your savings secure; never share your OTP with anyone."

	MsgLanguage = "🌍 Replies are currently in English. Kiswahili support is coming soon."

	MsgLoadAmountPrompt     = "💰 How much would you like to load (KES)?"
	MsgWithdrawAmountPrompt = "💸 How much would you like to withdraw (KES)?"
	MsgInvalidAmount        = "❌ Please enter a valid amount greater than zero (e.g. 500)."
	MsgInvalidMethod        = "❌ Please choose a payment method: *mpesa*, *bank* or *card*."
	MsgCancelled            = "👍 Cancelled. What would you like to do next?"
	MsgNothingToCancel      = "There is nothing to cancel."
	MsgLoggedOut            = "👋 You have been signed out. Say *hi* to start again."
	MsgSessionReset         = "⚠️ Something went wrong with your session, so we started over. Say *hi* to sign in again."

	MsgTryAgain         = "❌ Sorry, something went wrong. Please try again or type 'help'."
	MsgSlowDown         = "⏳ You're sending messages too quickly. Please wait a moment."
	MsgPriceUnavailable = "❌ Bitcoin price is unavailable right now."
	MsgNoTransactions   = "📊 No recent transactions found."
	MsgNotRegistered    = "❌ That number is not registered with Bitsacco. Sign up at bitsacco.com and try again."
)

// MethodPrompt asks how a pending load should be paid.
func MethodPrompt(amount float64, currency string) string {
	return fmt.Sprintf("How would you like to pay %s %s?\n\nReply *mpesa*, *bank* or *card*.",
		currency, FormatAmount(amount))
}

// OTPSent confirms an OTP request.
func OTPSent(phone string) string {
	return fmt.Sprintf("📱 We sent a code to %s.\n\n%s", phone, MsgOTPPrompt)
}

// AmountBelowMin rejects an amount under the configured minimum.
func AmountBelowMin(min float64, currency string) string {
	return fmt.Sprintf("❌ The minimum amount is %s %s.", currency, FormatAmount(min))
}

// AmountAboveMax rejects an amount over the configured maximum.
func AmountAboveMax(max float64, currency string) string {
	return fmt.Sprintf("❌ The maximum single amount is %s %s.", currency, FormatAmount(max))
}

// FormatAmount renders whole amounts without decimals and others with two.
func FormatAmount(v float64) string {
	if v == float64(int64(v)) {
		return groupThousands(fmt.Sprintf("%d", int64(v)))
	}
	s := fmt.Sprintf("%.2f", v)
	return groupThousands(s[:len(s)-3]) + s[len(s)-3:]
}

func groupThousands(digits string) string {
	neg := len(digits) > 0 && digits[0] == '-'
	if neg {
		digits = digits[1:]
	}
	if len(digits) <= 3 {
		if neg {
			return "-" + digits
		}
		return digits
	}
	var out []byte
	lead := len(digits) % 3
	if lead > 0 {
		out = append(out, digits[:lead]...)
	}
	for i := lead; i < len(digits); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i:i+3]...)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

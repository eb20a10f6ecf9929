// Package engine runs one conversation turn per inbound chat message.
//
// # Turn
//
// HandleInbound drops redelivered messages, takes the user's session lease,
// records the message in the session history, parses it, asks the state
// machine for a decision, and performs the decision's single effect (a wallet
// call, an OTP request, the assistant, a price lookup, or a plain reply). The
// decided state is applied only when the effect succeeds, so a failed backend
// call leaves the user where they were. The reply is appended to history, the
// session is saved and the reply is sent back through the adapter the message
// came from, all while the lease is held so one user's replies never reorder.
//
// # Assistant
//
// Free text from a signed-in user goes to the Assistant when one is
// configured. If it fails or declines, the text is handled as if no assistant
// existed. Actions the assistant suggests are fed back through the state
// machine and obey the same rules as typed commands; a suggested withdrawal
// only opens the amount prompt.
//
// # Errors
//
// Nothing escapes HandleInbound. Outcomes are classified for logs with the
// sentinels in errors.go and every failure is answered with a reply.
package engine

// Package dedupe remembers which platform messages have already started a
// conversation turn.
//
// Chat platforms redeliver on reconnects and webhook retries. The engine
// checks every inbound (channel, message ID) pair against a Cache before
// taking the user's session lease; a pair seen within the TTL is dropped
// without a reply. Messages without an ID are never deduplicated.
package dedupe

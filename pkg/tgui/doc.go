// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (plugin:action:payload)
//   - A TTL token store for callback payloads larger than Telegram's
//     64-byte callback_data limit
package tgui

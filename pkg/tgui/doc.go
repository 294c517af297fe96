// Package tgui builds Telegram message text for ParseMode="HTML".
//
// Values of type H are already escaped; plain strings pass through Esc.
package tgui

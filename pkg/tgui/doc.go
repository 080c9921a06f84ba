// Package tgui builds Telegram HTML (ParseMode "HTML") from plain text
// without double-escaping.
package tgui

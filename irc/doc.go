/*
Package irc implements the wire layer of the IRC client protocol: parsing
and formatting of protocol messages, the numeric reply table, and
validation helpers for nicknames and channel names.

A message is one line of text: an optional prefix introduced by a colon,
a command (verb or three-digit numeric), and up to MaxParams parameters.
The last parameter may be a "trailing" parameter introduced by a colon,
which consumes the remainder of the line including spaces:

	:nick!user@host PRIVMSG #channel :hello, world

Everything in this package is pure; no shared state is touched. The
server engine built on top of it lives in the server package.
*/
package irc

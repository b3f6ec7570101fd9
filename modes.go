package irccd

import "strings"

// modeBits is a bitset of channel user modes (op, voice, ...), each bit
// indexed by its position in the session's PREFIX mode table.
type modeBits uint32

// prefixTable is the session-local mapping between channel-mode characters
// (e.g. 'o', 'v') and the symbols displayed before nicknames ('@', '+'),
// parsed from an ISUPPORT PREFIX=(modes)symbols token (spec §4.2, GLOSSARY).
type prefixTable struct {
	modes   string // e.g. "ov"
	symbols string // e.g. "@+"
}

// defaultPrefixTable is used until a 005 PREFIX token is seen.
func defaultPrefixTable() prefixTable {
	return prefixTable{modes: "ov", symbols: "@+"}
}

// parsePrefixToken parses a raw "(modes)symbols" ISUPPORT PREFIX value.
// Tolerant per §9 "ISUPPORT PREFIX table": if the two halves don't have
// matching lengths, ok is false and the caller should keep its previous
// table rather than panic.
func parsePrefixToken(raw string) (table prefixTable, ok bool) {
	if len(raw) < 2 || raw[0] != '(' {
		return table, false
	}

	end := strings.IndexByte(raw, ')')
	if end < 1 {
		return table, false
	}

	modes := raw[1:end]
	symbols := raw[end+1:]
	if len(modes) != len(symbols) || len(modes) == 0 {
		return table, false
	}

	return prefixTable{modes: modes, symbols: symbols}, true
}

// bitFor returns the bit position assigned to a channel-mode character, and
// whether the table recognizes it.
func (t prefixTable) bitFor(mode byte) (modeBits, bool) {
	i := strings.IndexByte(t.modes, mode)
	if i < 0 {
		return 0, false
	}
	return 1 << uint(i), true
}

// bitForSymbol is the same lookup keyed by the displayed symbol instead of
// the mode character, e.g. '@' -> the bit for 'o'.
func (t prefixTable) bitForSymbol(symbol byte) (modeBits, bool) {
	i := strings.IndexByte(t.symbols, symbol)
	if i < 0 {
		return 0, false
	}
	return 1 << uint(i), true
}

// display renders the display prefix for a given bitset: one symbol per set
// bit, highest-ranked first (by table order), e.g. op+voice -> "@+".
func (t prefixTable) display(bits modeBits) string {
	var b strings.Builder
	for i := 0; i < len(t.modes); i++ {
		if bits&(1<<uint(i)) != 0 {
			b.WriteByte(t.symbols[i])
		}
	}
	return b.String()
}

// stripPrefixes repeatedly consumes leading symbol characters from a
// nickname token (spec §4.2 "Mode prefix stripping"), returning the bare
// nickname and the accumulated bitset.
func (t prefixTable) stripPrefixes(nick string) (residue string, bits modeBits) {
	for len(nick) > 0 {
		bit, ok := t.bitForSymbol(nick[0])
		if !ok {
			break
		}
		bits |= bit
		nick = nick[1:]
	}
	return nick, bits
}

// argConsumingModes lists channel modes that always consume one argument
// token regardless of +/- polarity. Grounded on the original implementation's
// MODE handler, which does not special-case +l vs -l.
const argConsumingModes = "bkleI"

// walkModeString walks a MODE mode-string ("+o-v", etc.) against its
// argument list, invoking fn(add, modeChar, arg) for each mode character that
// isn't one of the argument-consuming-but-ignored modes. arg is "" if the
// mode character carries no argument of its own (i.e. isn't a recognized
// prefix-table mode).
func walkModeString(modeStr string, args []string, fn func(add bool, mode byte, arg string)) {
	add := true
	argIdx := 0

	for i := 0; i < len(modeStr); i++ {
		c := modeStr[i]
		switch c {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}

		if strings.IndexByte(argConsumingModes, c) >= 0 {
			argIdx++
			continue
		}

		var arg string
		if argIdx < len(args) {
			arg = args[argIdx]
		}
		argIdx++

		fn(add, c, arg)
	}
}

package bump

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a parsed command.
type Kind int

const (
	// KindNone means the bot was not mentioned; the message is ignored.
	KindNone Kind = iota
	KindHi
	KindInfo
	KindHelp
	KindOnce
	KindEvery
	KindShowQueue
	KindStop
	// KindFallback means the bot was mentioned but no grammar matched.
	KindFallback
	// KindInvalid means a bump grammar matched but the amount or unit was unusable.
	KindInvalid
)

var kindNames = [...]string{"none", "hi", "info", "help", "once", "every", "show_queue", "stop", "fallback", "invalid"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Command is the structured result of parsing one chat message.
type Command struct {
	Kind Kind

	// Set for KindOnce and KindEvery.
	Amount  int64
	Unit    string // display unit, already pluralized for Amount
	Seconds int64  // delay (once) or interval (every)
}

// Description renders "<amount> <unit>", e.g. "30 minutes".
func (c Command) Description() string {
	return strconv.FormatInt(c.Amount, 10) + " " + c.Unit
}

type rule struct {
	kind Kind
	re   *regexp.Regexp
}

// Parser matches messages against the fixed bump grammar for one bot handle.
// Rules are tried in table order and the first match wins, so a broad rule
// can never shadow a more specific one listed before it.
type Parser struct {
	username string
	mention  *regexp.Regexp
	rules    []rule
}

// NewParser builds the grammar for the given bot handle (with or without '@').
func NewParser(username string) *Parser {
	username = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	at := `@` + regexp.QuoteMeta(username) + `\b`
	amountUnit := `(\d+|an?\b)\s*([a-z]+)`

	table := []struct {
		kind    Kind
		pattern string
	}{
		{KindHi, `\s+hi\b`},
		{KindInfo, `\s+(?:info|about)\b`},
		{KindHelp, `\s+help\b`},
		{KindOnce, `\s+bump\s+this\s+in\s+` + amountUnit},
		{KindEvery, `\s+bump\s+this\s+every\s+` + amountUnit},
		{KindShowQueue, `\s+show\s+queue\b`},
		{KindStop, `\s+stop\b`},
	}

	p := &Parser{username: username, mention: regexp.MustCompile(at)}
	for _, r := range table {
		p.rules = append(p.rules, rule{kind: r.kind, re: regexp.MustCompile(at + r.pattern)})
	}
	return p
}

// Parse maps one message text to a Command. Matching is case-insensitive.
func (p *Parser) Parse(text string) Command {
	text = strings.ToLower(strings.TrimSpace(text))
	if p.username == "" || !p.mention.MatchString(text) {
		return Command{Kind: KindNone}
	}
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if r.kind != KindOnce && r.kind != KindEvery {
			return Command{Kind: r.kind}
		}
		amount, ok := ParseAmount(m[1])
		if !ok {
			return Command{Kind: KindInvalid}
		}
		secs, unit := Normalize(amount, m[2])
		if secs <= 0 {
			return Command{Kind: KindInvalid}
		}
		return Command{Kind: r.kind, Amount: amount, Unit: unit, Seconds: secs}
	}
	return Command{Kind: KindFallback}
}

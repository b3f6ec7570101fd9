package irccd

import "regexp"

// RuleAction is the outcome of a RuleChain match: whether the matching
// event/plugin pair should be delivered.
type RuleAction int

const (
	RuleAccept RuleAction = iota
	RuleDrop
)

// ruleSet is a set of POSIX-ERE patterns, anchored to a full match, that
// matches any candidate string when empty (spec §4.4's wildcard rule).
// Compiled eagerly at insertion so a malformed pattern is rejected then,
// not at match time.
type ruleSet struct {
	patterns []*regexp.Regexp
	raw      []string
}

func newRuleSet(patterns []string) (ruleSet, error) {
	rs := ruleSet{raw: append([]string(nil), patterns...)}
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return ruleSet{}, err
		}
		rs.patterns = append(rs.patterns, re)
	}
	return rs, nil
}

func (rs ruleSet) matches(candidate string) bool {
	if len(rs.patterns) == 0 {
		return true
	}
	for _, re := range rs.patterns {
		if re.MatchString(candidate) {
			return true
		}
	}
	return false
}

// Rule is one entry of the bot's ordered rule chain: five candidate sets
// (servers, channels, origins, plugins, events) plus an accept/drop action,
// grounded on irccd.h's irc_bot_rule_* contract (spec §4.4).
type Rule struct {
	Servers  []string
	Channels []string
	Origins  []string
	Plugins  []string
	Events   []string
	Action   RuleAction

	servers  ruleSet
	channels ruleSet
	origins  ruleSet
	plugins  ruleSet
	events   ruleSet
}

// NewRule compiles a Rule's five regex sets, rejecting malformed patterns at
// construction time rather than at match time.
func NewRule(servers, channels, origins, plugins, events []string, action RuleAction) (*Rule, error) {
	r := &Rule{Servers: servers, Channels: channels, Origins: origins, Plugins: plugins, Events: events, Action: action}

	var err error
	if r.servers, err = newRuleSet(servers); err != nil {
		return nil, err
	}
	if r.channels, err = newRuleSet(channels); err != nil {
		return nil, err
	}
	if r.origins, err = newRuleSet(origins); err != nil {
		return nil, err
	}
	if r.plugins, err = newRuleSet(plugins); err != nil {
		return nil, err
	}
	if r.events, err = newRuleSet(events); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rule) matchesAll(server, channel, origin, plugin, event string) bool {
	return r.servers.matches(server) &&
		r.channels.matches(channel) &&
		r.origins.matches(origin) &&
		r.plugins.matches(plugin) &&
		r.events.matches(event)
}

// filterTag is the fixed event-kind-to-rule-filter-name mapping (spec §4.3).
func filterTag(kind EventKind) string {
	switch kind {
	case EventCommand:
		return "onCommand"
	case EventConnect:
		return "onConnect"
	case EventDisconnect:
		return "onDisconnect"
	case EventInvite:
		return "onInvite"
	case EventJoin:
		return "onJoin"
	case EventKick:
		return "onKick"
	case EventMe:
		return "onMe"
	case EventMessage:
		return "onMessage"
	case EventMode:
		return "onMode"
	case EventNames:
		return "onNames"
	case EventNick:
		return "onNick"
	case EventNotice:
		return "onNotice"
	case EventPart:
		return "onPart"
	case EventTopic:
		return "onTopic"
	case EventWhois:
		return "onWhois"
	default:
		return ""
	}
}

// RuleChain is the bot's ordered, mutable sequence of rules. Later rules
// override earlier ones for a given candidate tuple; the default, with no
// matching rules, is RuleAccept (spec §4.4).
type RuleChain struct {
	rules []*Rule
}

// NewRuleChain returns an empty chain.
func NewRuleChain() *RuleChain { return &RuleChain{} }

// Insert adds rule at pos, clamped to the chain's current length. A negative
// pos appends, like a pos past the end.
func (c *RuleChain) Insert(rule *Rule, pos int) {
	if pos < 0 || pos >= len(c.rules) {
		c.rules = append(c.rules, rule)
		return
	}
	c.rules = append(c.rules, nil)
	copy(c.rules[pos+1:], c.rules[pos:])
	c.rules[pos] = rule
}

// Get returns the rule at pos, or false if pos is out of bounds.
func (c *RuleChain) Get(pos int) (*Rule, bool) {
	if pos < 0 || pos >= len(c.rules) {
		return nil, false
	}
	return c.rules[pos], true
}

// Move relocates the rule at from so that it ends up at index to, with to
// clamped to valid bounds. An out-of-bounds from is a no-op, and so is
// Move(i, i).
func (c *RuleChain) Move(from, to int) {
	if from < 0 || from >= len(c.rules) {
		return
	}
	if to < 0 {
		to = 0
	}
	if to >= len(c.rules) {
		to = len(c.rules) - 1
	}
	if from == to {
		return
	}

	r := c.rules[from]
	c.rules = append(c.rules[:from], c.rules[from+1:]...)

	c.rules = append(c.rules, nil)
	copy(c.rules[to+1:], c.rules[to:])
	c.rules[to] = r
}

// Remove deletes the rule at pos. A no-op if pos is out of bounds.
func (c *RuleChain) Remove(pos int) {
	if pos < 0 || pos >= len(c.rules) {
		return
	}
	c.rules = append(c.rules[:pos], c.rules[pos+1:]...)
}

// Size returns the number of rules in the chain.
func (c *RuleChain) Size() int { return len(c.rules) }

// Clear empties the chain.
func (c *RuleChain) Clear() { c.rules = nil }

// Match runs the rule_match algorithm (spec §4.4) over the chain for the
// given candidate tuple, returning the final action (RuleAccept if no rule
// matched).
func (c *RuleChain) Match(server, channel, origin, plugin, event string) RuleAction {
	result := RuleAccept
	for _, r := range c.rules {
		if r.matchesAll(server, channel, origin, plugin, event) {
			result = r.Action
		}
	}
	return result
}

package gateway

import (
	"strconv"
	"strings"

	"emperror.dev/errors"
)

// Intent is a bitmask of the event categories a connection receives
type Intent int

const (
	IntentGuilds Intent = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
)

// IntentNames is the ordered list of intent names, index i names bit 1<<i
var IntentNames = []string{
	"GUILDS",
	"GUILD_MEMBERS",
	"GUILD_BANS",
	"GUILD_EMOJIS",
	"GUILD_INTEGRATIONS",
	"GUILD_WEBHOOKS",
	"GUILD_INVITES",
	"GUILD_VOICE_STATES",
	"GUILD_PRESENCES",
	"GUILD_MESSAGES",
	"GUILD_MESSAGE_REACTIONS",
	"GUILD_MESSAGE_TYPING",
	"DIRECT_MESSAGES",
	"DIRECT_MESSAGE_REACTIONS",
	"DIRECT_MESSAGE_TYPING",
}

const (
	IntentsAll     Intent = 1<<15 - 1
	IntentsDefault        = IntentGuilds | IntentGuildMessages
)

var ErrUnknownIntent = errors.NewPlain("unknown intent")

// MakeIntent ORs the named intents together
func MakeIntent(names ...string) (Intent, error) {
	var result Intent
	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		found := false
		for i, v := range IntentNames {
			if v == name {
				result |= 1 << i
				found = true
				break
			}
		}

		if !found {
			return 0, errors.WithMessage(ErrUnknownIntent, name)
		}
	}

	return result, nil
}

// ParseIntents parses either a plain integer mask or a comma separated list
// of names; "ALL" and "DEFAULT" map to the convenience masks.
func ParseIntents(s string) (Intent, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return IntentsDefault, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || Intent(n)&^IntentsAll != 0 {
			return 0, errors.WithMessage(ErrUnknownIntent, s)
		}
		return Intent(n), nil
	}

	switch strings.ToUpper(s) {
	case "ALL":
		return IntentsAll, nil
	case "DEFAULT":
		return IntentsDefault, nil
	}

	return MakeIntent(strings.Split(s, ",")...)
}

// Names returns the names of the set bits, in list order
func (i Intent) Names() []string {
	var names []string
	for bit, name := range IntentNames {
		if i&(1<<bit) != 0 {
			names = append(names, name)
		}
	}
	return names
}

func (i Intent) String() string {
	return strings.Join(i.Names(), "|")
}

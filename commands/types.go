package commands

import (
	"encoding/json"
)

type ApplicationCommandType int

const (
	ApplicationCommandTypeChatInput ApplicationCommandType = 1
	ApplicationCommandTypeUser      ApplicationCommandType = 2
	ApplicationCommandTypeMessage   ApplicationCommandType = 3
)

type ApplicationCommandOptionType int

const (
	ApplicationCommandOptionSubCommand      ApplicationCommandOptionType = 1
	ApplicationCommandOptionSubCommandGroup ApplicationCommandOptionType = 2
	ApplicationCommandOptionString          ApplicationCommandOptionType = 3
	ApplicationCommandOptionInteger         ApplicationCommandOptionType = 4
	ApplicationCommandOptionBoolean         ApplicationCommandOptionType = 5
	ApplicationCommandOptionUser            ApplicationCommandOptionType = 6
	ApplicationCommandOptionChannel         ApplicationCommandOptionType = 7
	ApplicationCommandOptionRole            ApplicationCommandOptionType = 8
)

type CommandOption struct {
	Type        ApplicationCommandOptionType `json:"type"`
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Required    bool                         `json:"required,omitempty"`
	Options     []*CommandOption             `json:"options,omitempty"`
}

type InteractionType int

const (
	InteractionTypePing               InteractionType = 1
	InteractionTypeApplicationCommand InteractionType = 2
)

type Interaction struct {
	ID            int64           `json:"id,string"`
	ApplicationID int64           `json:"application_id,string"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	GuildID       int64           `json:"guild_id,string,omitempty"`
	ChannelID     int64           `json:"channel_id,string,omitempty"`
	Data          InteractionData `json:"data"`
}

type InteractionData struct {
	ID      int64                  `json:"id,string"`
	Name    string                 `json:"name"`
	Type    ApplicationCommandType `json:"type"`
	Options []*InteractionOption   `json:"options"`
}

type InteractionOption struct {
	Name    string                       `json:"name"`
	Type    ApplicationCommandOptionType `json:"type"`
	Value   json.RawMessage              `json:"value,omitempty"`
	Options []*InteractionOption         `json:"options,omitempty"`
}

// Option returns the top level option with name, or nil
func (d *InteractionData) Option(name string) *InteractionOption {
	for _, v := range d.Options {
		if v.Name == name {
			return v
		}
	}
	return nil
}

type InteractionResponseType int

const (
	InteractionResponseChannelMessageWithSource InteractionResponseType = 4
	InteractionResponseDeferredChannelMessage   InteractionResponseType = 5
)

type InteractionResponse struct {
	Type InteractionResponseType  `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

type InteractionResponseData struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

// Package commands registers application commands when a shard becomes
// ready and routes interactions to the command they belong to.
package commands

import (
	"context"
	"sort"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/eventsystem"
	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/botlabs-gg/dgateway/rest"
	jsoniter "github.com/json-iterator/go"
	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("p", "commands")

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNoApplicationID = errors.NewPlain("no application id to register commands for")
	ErrUnknownCommand  = errors.NewPlain("unknown command")
)

// RunFunc runs a command, a non nil response is sent back as the
// interaction callback
type RunFunc func(ctx context.Context, interaction *Interaction) (*InteractionResponse, error)

// Command is the declarative definition of an application command, it's
// registered globally unless GuildIDs is set
type Command struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Type        ApplicationCommandType `json:"type,omitempty"`
	Options     []*CommandOption       `json:"options,omitempty"`

	GuildIDs []int64 `json:"-"`
	Run      RunFunc `json:"-"`
}

// Sender sends REST requests, implemented by *rest.Client
type Sender interface {
	Request(ctx context.Context, method, path string, body interface{}) (int, []byte, error)
}

// Registrar holds the commands waiting to be registered, they're POSTed on
// the next READY
type Registrar struct {
	Sender Sender

	// If set, the encoded command set is stored here and identical sets
	// are not registered again
	Cache    radix.Client
	CacheKey string

	Timeout time.Duration

	mu       sync.Mutex
	commands map[string]*Command
	pending  []*Command
}

var _ gateway.ReadyHandler = (*Registrar)(nil)

func NewRegistrar(sender Sender) *Registrar {
	return &Registrar{
		Sender:   sender,
		CacheKey: "dgateway_commands_current",
		Timeout:  time.Minute,
		commands: make(map[string]*Command),
	}
}

// Add adds commands to the pending list
func (r *Registrar) Add(cmds ...*Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cmd := range cmds {
		r.commands[cmd.Name] = cmd
		r.pending = append(r.pending, cmd)
	}
}

// Pending returns the commands not registered yet
func (r *Registrar) Pending() []*Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Command(nil), r.pending...)
}

// Command returns the command with name, or nil
func (r *Registrar) Command(name string) *Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commands[name]
}

// HandleReady implements gateway.ReadyHandler
func (r *Registrar) HandleReady(shardID int, ready *gateway.Ready) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	if err := r.Register(ctx, ready.ApplicationID()); err != nil {
		logger.WithError(err).WithField("shard", shardID).Error("failed registering commands")
	}
}

// Register POSTs every pending command, once per guild for guild commands.
// Commands that failed stay pending for the next call.
func (r *Registrar) Register(ctx context.Context, appID int64) error {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if appID == 0 {
		r.requeue(pending)
		return ErrNoApplicationID
	}

	var encoded string
	if r.Cache != nil {
		encoded = encodeCommandSet(appID, pending)

		current := ""
		if err := r.Cache.Do(radix.Cmd(&current, "GET", r.CacheKey)); err != nil {
			logger.WithError(err).Error("failed retrieving current saved commands")
		} else if current == encoded {
			logger.Info("Commands identical, skipping update")
			return nil
		}
	}

	var failed []*Command
	for _, cmd := range pending {
		if len(cmd.GuildIDs) == 0 {
			if !r.post(ctx, rest.EndpointApplicationCommands(appID), cmd) {
				failed = append(failed, cmd)
			}
			continue
		}

		for _, guildID := range cmd.GuildIDs {
			if !r.post(ctx, rest.EndpointApplicationGuildCommands(appID, guildID), cmd) {
				failed = append(failed, cmd)
				break
			}
		}
	}

	if len(failed) > 0 {
		r.requeue(failed)
		return errors.Errorf("%d of %d commands failed to register", len(failed), len(pending))
	}

	logger.Infof("Registered %d commands", len(pending))

	if r.Cache != nil {
		if err := r.Cache.Do(radix.Cmd(nil, "SET", r.CacheKey, encoded)); err != nil {
			logger.WithError(err).Error("failed saving current commands")
		}
	}

	return nil
}

func (r *Registrar) requeue(cmds []*Command) {
	r.mu.Lock()
	r.pending = append(cmds, r.pending...)
	r.mu.Unlock()
}

func (r *Registrar) post(ctx context.Context, path string, cmd *Command) bool {
	status, body, err := r.Sender.Request(ctx, "POST", path, cmd)
	if err != nil {
		logger.WithError(err).WithField("cmd", cmd.Name).Error("failed registering command")
		return false
	}

	if !rest.IsSuccess(status) {
		logger.WithField("cmd", cmd.Name).WithField("status", status).Errorf("failed registering command: %s", string(body))
		return false
	}

	return true
}

type cachedCommand struct {
	GuildIDs []int64  `json:"guild_ids,omitempty"`
	Command  *Command `json:"command"`
}

func encodeCommandSet(appID int64, cmds []*Command) string {
	set := make([]cachedCommand, 0, len(cmds))
	for _, v := range cmds {
		set = append(set, cachedCommand{GuildIDs: v.GuildIDs, Command: v})
	}

	sort.Slice(set, func(i, j int) bool {
		return set[i].Command.Name < set[j].Command.Name
	})

	encoded, _ := jsonCodec.Marshal(struct {
		ApplicationID int64           `json:"application_id"`
		Commands      []cachedCommand `json:"commands"`
	}{appID, set})
	return string(encoded)
}

// AttachTo routes INTERACTION_CREATE events on router to this registrar
func (r *Registrar) AttachTo(router *eventsystem.Router) {
	router.AddHandler("INTERACTION_CREATE", r.HandleInteraction)
}

// HandleInteraction runs the command an application command interaction is for
func (r *Registrar) HandleInteraction(evt *eventsystem.EventData) (retry bool, err error) {
	var interaction Interaction
	if err := evt.Decode(&interaction); err != nil {
		return false, errors.WithMessage(err, "decode interaction")
	}

	if interaction.Type != InteractionTypeApplicationCommand {
		return false, nil
	}

	cmd := r.Command(interaction.Data.Name)
	if cmd == nil || cmd.Run == nil {
		return false, errors.WithMessage(ErrUnknownCommand, interaction.Data.Name)
	}

	resp, err := cmd.Run(evt.Context(), &interaction)
	if err != nil {
		return false, errors.WithMessage(err, cmd.Name)
	}

	if resp == nil {
		return false, nil
	}

	status, body, err := r.Sender.Request(evt.Context(), "POST", rest.EndpointInteractionCallback(interaction.ID, interaction.Token), resp)
	if err != nil {
		return false, err
	}
	if !rest.IsSuccess(status) {
		logger.WithField("cmd", cmd.Name).WithField("status", status).Errorf("failed responding to interaction: %s", string(body))
	}

	return false, nil
}

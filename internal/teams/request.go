package teams

import "strings"

const (
	TypeChannel = "channel"
	TypeChat    = "chat"
)

// NotificationRequest is the inbound body of POST /notify.
type NotificationRequest struct {
	ChannelType string `json:"channel_type"`
	TeamID      string `json:"team_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Format      string `json:"format,omitempty"`
	Message     string `json:"message"`
}

// ValidationRequest is the inbound body of POST /validate.
type ValidationRequest struct {
	ChannelType string `json:"channel_type"`
	TeamID      string `json:"team_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
}

// Target is where a message goes. It is either ChannelTarget or ChatTarget.
type Target interface {
	Kind() string
	messagesPath() string
	resourcePath() string
}

type ChannelTarget struct {
	TeamID    string
	ChannelID string
}

type ChatTarget struct {
	ChatID string
}

func (ChannelTarget) Kind() string { return TypeChannel }
func (ChatTarget) Kind() string    { return TypeChat }

func (t ChannelTarget) resourcePath() string {
	return "/teams/" + escape(t.TeamID) + "/channels/" + escape(t.ChannelID)
}
func (t ChannelTarget) messagesPath() string { return t.resourcePath() + "/messages" }

func (t ChatTarget) resourcePath() string { return "/chats/" + escape(t.ChatID) }
func (t ChatTarget) messagesPath() string { return t.resourcePath() + "/messages" }

// Defaults fill target fields the caller left out.
type Defaults struct {
	TeamID    string
	ChannelID string
	Format    string
}

// ParseNotification checks a notify request and resolves its target.
// Rules are applied in order and the first violation is returned.
func ParseNotification(req NotificationRequest, def Defaults) (Target, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, invalid("message is required")
	}
	return resolveTarget(req.ChannelType, req.TeamID, req.ChannelID, req.ChatID, def)
}

// ParseValidation resolves the target of a validate request.
func ParseValidation(req ValidationRequest, def Defaults) (Target, error) {
	return resolveTarget(req.ChannelType, req.TeamID, req.ChannelID, req.ChatID, def)
}

func resolveTarget(channelType, teamID, channelID, chatID string, def Defaults) (Target, error) {
	channelType = strings.TrimSpace(channelType)
	switch channelType {
	case "":
		return nil, invalid("channel_type is required")
	case TypeChannel:
		team := firstNonBlank(teamID, def.TeamID)
		if team == "" {
			return nil, invalid("team_id is required")
		}
		channel := firstNonBlank(channelID, def.ChannelID)
		if channel == "" {
			return nil, invalid("channel_id is required")
		}
		return ChannelTarget{TeamID: team, ChannelID: channel}, nil
	case TypeChat:
		chat := strings.TrimSpace(chatID)
		if chat == "" {
			return nil, invalid("chat_id is required")
		}
		return ChatTarget{ChatID: chat}, nil
	default:
		return nil, invalid("unsupported channel_type: %s", channelType)
	}
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

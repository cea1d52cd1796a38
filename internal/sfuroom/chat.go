package sfuroom

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sfu-control/sfu-control/internal/identity"
)

// MaxChatBodyCodePoints bounds a chat message's length (§4.7).
const MaxChatBodyCodePoints = 1000

// ErrChatLocked is returned when chat is locked and the sender is not an
// admin or host.
var ErrChatLocked = fmt.Errorf("chat is locked")

// ErrChatTooLong is returned when a message exceeds MaxChatBodyCodePoints.
var ErrChatTooLong = fmt.Errorf("chat message exceeds the maximum length")

// ErrCannotMessageSelf is returned when a DM target resolves to the sender.
var ErrCannotMessageSelf = fmt.Errorf("cannot send a direct message to yourself")

// ErrTargetNotFound is returned when an @handle does not resolve to any
// seated participant.
var ErrTargetNotFound = fmt.Errorf("message target not found")

// ErrTargetAmbiguous is returned when an @handle resolves to more than one
// seated participant.
type ErrTargetAmbiguous struct {
	Handle     string
	Candidates []identity.UserId
}

func (e *ErrTargetAmbiguous) Error() string {
	return fmt.Sprintf("message target %q is ambiguous among %v", e.Handle, e.Candidates)
}

// ErrDmDisabled is returned when direct messages are sent while the room's
// dmEnabled policy is false.
var ErrDmDisabled = fmt.Errorf("direct messages are disabled in this room")

// ErrTtsDisabled is returned when a /tts command is sent while the room's
// ttsDisabled policy is true.
var ErrTtsDisabled = fmt.Errorf("text-to-speech is disabled in this room")

// SendChat routes a chat message. A body beginning with "@handle " is
// parsed as a directed message; the remainder is a room broadcast. A body
// beginning with "/tts " is rejected outright when the room disables TTS.
func (r *Room) SendChat(ctx context.Context, senderId identity.UserId, body string) (*ChatMessage, error) {
	if utf8.RuneCountInString(body) > MaxChatBodyCodePoints {
		return nil, ErrChatTooLong
	}

	r.mu.RLock()
	sender, ok := r.clients[senderId]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrNotParticipant
	}
	isPrivileged := r.adminUserKeys.Has(sender.UserKey) || sender.UserKey == r.hostUserKey
	chatLocked := r.policies.ChatLocked
	ttsDisabled := r.policies.TtsDisabled
	dmEnabled := r.policies.DmEnabled
	r.mu.RUnlock()

	if chatLocked && !isPrivileged {
		return nil, ErrChatLocked
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(strings.ToLower(trimmed), "/tts ") && ttsDisabled {
		return nil, ErrTtsDisabled
	}

	var target identity.UserId
	msgBody := trimmed
	if strings.HasPrefix(trimmed, "@") {
		handle, rest, found := strings.Cut(trimmed, " ")
		if found {
			if !dmEnabled {
				return nil, ErrDmDisabled
			}
			resolved, err := r.resolveHandle(strings.TrimPrefix(handle, "@"))
			if err != nil {
				return nil, err
			}
			if resolved == senderId {
				return nil, ErrCannotMessageSelf
			}
			target = resolved
			msgBody = rest
		}
	}

	msg := &ChatMessage{
		ChatId:    newChatId(),
		From:      senderId,
		To:        target,
		Body:      msgBody,
		Timestamp: now(),
	}

	if target != "" {
		r.emit(ctx, "chat.dm", msg)
	} else {
		r.emit(ctx, "chat.broadcast", msg)
	}
	return msg, nil
}

// resolveHandle matches a stripped @handle against a full userId, a
// userId's bare userKey portion, the userKey's local part before "@", or a
// display name — all case-insensitively, after trimming trailing
// [,:;.!?] punctuation. Multiple matches are ambiguous; zero matches are
// not found.
func (r *Room) resolveHandle(handle string) (identity.UserId, error) {
	needle := normalizeHandle(handle)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []identity.UserId
	for id, p := range r.clients {
		switch needle {
		case normalizeHandle(string(id)),
			normalizeHandle(string(p.UserKey)),
			normalizeHandle(localPart(p.UserKey)):
			matches = append(matches, id)
			continue
		}
		if name, ok := r.displayNamesByUserKey[p.UserKey]; ok && normalizeHandle(string(name)) == needle {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", ErrTargetNotFound
	case 1:
		return matches[0], nil
	default:
		return "", &ErrTargetAmbiguous{Handle: handle, Candidates: matches}
	}
}

// localPart returns the portion of a userKey before its first "@", or the
// whole key if it carries none (used to match a DM handle against a bare
// local-part alias, §4.7).
func localPart(key identity.UserKey) string {
	local, _, found := strings.Cut(string(key), "@")
	if !found {
		return string(key)
	}
	return local
}

// normalizeHandle lowercases s and trims any trailing run of
// "[,:;.!?]+" punctuation, the only normalization §4.7 specifies for DM
// target matching — it must not strip interior characters like "@" or ".",
// since those are load-bearing in userIds and userKeys.
func normalizeHandle(s string) string {
	return strings.TrimRight(strings.ToLower(s), ",:;.!?")
}

var chatIdCounter uint64

func newChatId() string {
	n := atomic.AddUint64(&chatIdCounter, 1)
	return fmt.Sprintf("chat-%d-%d", now().UnixNano(), n)
}

package stream

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	// DoneSentinel marks normal completion of a stream.
	DoneSentinel = "[DONE]"

	// FailureSentinel is written by the backend when the upstream model
	// fails mid-stream.
	FailureSentinel = "[STREAM ERROR]"
)

// Kind tags a decoded Fragment.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindChatID
	KindText
	KindDone
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindChatID:
		return "chat_id"
	case KindText:
		return "text"
	case KindDone:
		return "done"
	case KindFailure:
		return "failure"
	default:
		return "unrecognized"
	}
}

// Fragment is one decoded unit of a stream event.
type Fragment struct {
	Kind   Kind
	ChatID int64
	Text   string
}

// envelope is the JSON payload of a stream event. Either field may be
// absent; an event that carries both yields the chat id first.
type envelope struct {
	ChatID json.RawMessage `json:"chat_id"`
	Chunk  *string         `json:"chunk"`
}

// Decode turns the data of one SSE event into fragments. It never fails:
// anything it cannot interpret becomes a single KindUnrecognized fragment.
func Decode(data string) []Fragment {
	switch strings.TrimSpace(data) {
	case DoneSentinel:
		return []Fragment{{Kind: KindDone}}
	case FailureSentinel:
		return []Fragment{{Kind: KindFailure}}
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return []Fragment{{Kind: KindUnrecognized, Text: data}}
	}

	var out []Fragment
	if id, ok := parseChatID(env.ChatID); ok {
		out = append(out, Fragment{Kind: KindChatID, ChatID: id})
	}
	if env.Chunk != nil {
		out = append(out, Fragment{Kind: KindText, Text: *env.Chunk})
	}
	if len(out) == 0 {
		return []Fragment{{Kind: KindUnrecognized, Text: data}}
	}
	return out
}

// parseChatID accepts a JSON number or a quoted decimal string. Zero, null
// and negative values count as absent.
func parseChatID(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != math.Trunc(f) || f >= math.MaxInt64 {
			return 0, false
		}
		id = int64(f)
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}

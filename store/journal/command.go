package journal

import (
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
)

const (
	cmdInsert = "insert"
	cmdPut    = "put"
	cmdPatch  = "patch"
	cmdRemove = "remove"
	cmdDrop   = "drop"
)

// Command is one line of a collection log.
type Command struct {
	Name      string         `json:"name"`
	Uuid      string         `json:"uuid"`
	Timestamp int64          `json:"timestamp"`
	Key       string         `json:"key,omitempty"`
	Payload   jsontext.Value `json:"payload,omitempty"`
}

func newCommand(name, key string, payload any) (*Command, error) {
	command := &Command{
		Name:      name,
		Uuid:      uuid.New().String(),
		Timestamp: time.Now().UnixNano(),
		Key:       key,
	}
	if payload != nil {
		data, err := json.Marshal(payload, json.Deterministic(true))
		if err != nil {
			return nil, err
		}
		command.Payload = data
	}
	return command, nil
}

// line renders the command followed by a newline.
func (c *Command) line() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (c *Command) document() (map[string]any, error) {
	doc := map[string]any{}
	err := json.Unmarshal(c.Payload, &doc)
	return doc, err
}

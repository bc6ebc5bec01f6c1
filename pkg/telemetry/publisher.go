package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// Topic prefixes every published message so subscribers can filter on it.
const Topic = "progress "

// Publisher broadcasts Progress as JSON on a mangos pub socket. Slow or
// absent subscribers never block the loaders.
type Publisher struct {
	sock   mangos.Socket
	logger logging.Logger

	mu     sync.Mutex
	warned bool
}

// NewPublisher listens on addr, e.g. "tcp://127.0.0.1:40899" or
// "inproc://progress".
func NewPublisher(addr string, logger logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, 100*time.Millisecond); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &Publisher{sock: sock, logger: logger.With(logging.Component("telemetry"))}, nil
}

// Encode frames p as a topic-prefixed JSON message.
func Encode(p Progress) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return append([]byte(Topic), body...), nil
}

// Decode parses a message produced by Encode.
func Decode(msg []byte) (Progress, error) {
	var p Progress
	if len(msg) >= len(Topic) && string(msg[:len(Topic)]) == Topic {
		msg = msg[len(Topic):]
	}
	err := json.Unmarshal(msg, &p)
	return p, err
}

// Report implements Reporter.
func (p *Publisher) Report(pr Progress) {
	msg, err := Encode(pr)
	if err != nil {
		return
	}
	if err := p.sock.Send(msg); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.warned {
			p.warned = true
			p.logger.Warn("progress publish failed", logging.Error(err))
		}
	}
}

// Close closes the socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}

package peers

import (
	"errors"
	"strings"
	"time"
)

// ErrPeerGone is returned when sending to a peer whose connection has closed.
var ErrPeerGone = errors.New("peer disconnected")

// Sender delivers an encoded frame to one remote connection.
type Sender interface {
	Send(data []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error { return f(data) }

// Policy is the access-control blacklist attached to a client identity.
type Policy struct {
	Messages []string `json:"messages"`
	Skills   []string `json:"skills"`
	Intents  []string `json:"intents"`
}

// AllowsMessage reports whether a peer may inject msgType. Entries ending in
// "*" match by prefix.
func (p Policy) AllowsMessage(msgType string) bool {
	for _, blocked := range p.Messages {
		blocked = strings.TrimSpace(blocked)
		if blocked == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(blocked, "*"); ok {
			if strings.HasPrefix(msgType, prefix) {
				return false
			}
			continue
		}
		if blocked == msgType {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the policy blocks nothing.
func (p Policy) IsEmpty() bool {
	return len(p.Messages) == 0 && len(p.Skills) == 0 && len(p.Intents) == 0
}

// PeerOption is a functional option for configuring a Peer.
type PeerOption func(*Peer)

// WithName sets the authenticated client name of the peer.
func WithName(name string) PeerOption {
	return func(p *Peer) { p.Name = name }
}

// WithPolicy attaches a blacklist policy to the peer.
func WithPolicy(policy Policy) PeerOption {
	return func(p *Peer) { p.Policy = policy }
}

// Peer is one connected remote client.
type Peer struct {
	ID          string
	Name        string
	Policy      Policy
	ConnectedAt time.Time

	sender Sender
}

func NewPeer(id string, sender Sender, opts ...PeerOption) *Peer {
	p := &Peer{
		ID:          id,
		ConnectedAt: time.Now(),
		sender:      sender,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send hands data to the peer's connection.
func (p *Peer) Send(data []byte) error {
	if p.sender == nil {
		return ErrPeerGone
	}
	return p.sender.Send(data)
}

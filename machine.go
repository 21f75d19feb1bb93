package csm

import "fmt"

// Message is implemented by every mini-protocol message sum. The tag is
// the message's wire discriminant, the first element of its CBOR
// tag-variant array, and the key used by transition tables.
type Message interface {
	Tag() uint64
}

// Rule is one legal transition of a mini-protocol state machine: in
// state From, a message bearing Tag moves the machine to state To.
type Rule[S comparable] struct {
	From S
	Tag  uint64
	To   S
}

type ruleKey[S comparable] struct {
	from S
	tag  uint64
}

// Machine is a mini-protocol transition relation consulted at runtime.
// It is built once from a declarative rule list plus the sender role of
// each message tag, and derives both the membership test and the
// per-state speaking direction.
type Machine[S comparable] struct {
	next   map[ruleKey[S]]S
	sender map[S]Direction
}

// NewMachine builds a Machine from rules and the sender role of every
// message tag appearing in them. States with no outgoing rule are
// terminal.
//
// Panics if a rule references a tag with no declared role, or if two
// rules leaving the same state have different sender roles: both are
// declaration bugs, not peer-reachable conditions.
func NewMachine[S comparable](rules []Rule[S], roles map[uint64]Direction) *Machine[S] {
	m := &Machine[S]{
		next:   make(map[ruleKey[S]]S, len(rules)),
		sender: make(map[S]Direction),
	}
	for _, r := range rules {
		role, ok := roles[r.Tag]
		if !ok {
			panic(fmt.Sprintf("csm: transition rule references tag %d with no sender role", r.Tag))
		}
		if prev, ok := m.sender[r.From]; ok && prev != role {
			panic(fmt.Sprintf("csm: state %v has outgoing rules with conflicting sender roles", r.From))
		}
		m.sender[r.From] = role
		key := ruleKey[S]{from: r.From, tag: r.Tag}
		if _, dup := m.next[key]; dup {
			panic(fmt.Sprintf("csm: duplicate transition rule from state %v on tag %d", r.From, r.Tag))
		}
		m.next[key] = r.To
	}
	return m
}

// Transition returns the state reached from s by a message bearing tag,
// or ok=false when the pair is not in the relation.
func (m *Machine[S]) Transition(s S, tag uint64) (next S, ok bool) {
	next, ok = m.next[ruleKey[S]{from: s, tag: tag}]
	return next, ok
}

// Sender returns which side may next send from state s.
// ok=false means s is terminal.
func (m *Machine[S]) Sender(s S) (d Direction, ok bool) {
	d, ok = m.sender[s]
	return d, ok
}

// ProtocolSpec ties together everything the runtime needs to drive one
// mini-protocol over a channel: its id, buffer sizing, initial state,
// transition relation and message codec.
type ProtocolSpec[S comparable, M Message] struct {
	// Name appears in log records
	Name string
	// Number is the channel id carried in frame headers
	Number Id
	// MaxMessageSize sizes the channel's receive buffer; a message
	// exceeding it poisons the channel
	MaxMessageSize int
	// Initial is the protocol's starting state
	Initial S
	// Machine is the transition relation
	Machine *Machine[S]
	// Encode serializes a message to its CBOR wire form
	Encode func(M) ([]byte, error)
	// Decode parses exactly one CBOR item into a message
	Decode func([]byte) (M, error)
}

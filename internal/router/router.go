package router

import (
	"strings"
	"sync"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

type Receiver interface {
	// Receive takes and processes an incoming Message.
	Receive(message spacestate.Message)
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(spacestate.Message)

func (f ReceiverFunc) Receive(msg spacestate.Message) { f(msg) }

// New returns a new Router for MQTT topic look ups.
//
// mqtt.Client only supports one callback per subscription and a wildcard
// subscription can shadow more specific ones, so the node subscribes once
// and dispatches through a Router.
func New() *Router {
	return &Router{root: &node{}}
}

type Router struct {
	mu      sync.RWMutex
	root    *node
	filters []string
}

type node struct {
	children  map[string]*node
	receivers []Receiver
}

// Add assigns a receiver to a topic filter. The filter may contain the MQTT
// wildcards + (one level) and # (any remaining levels, last level only).
func (r *Router) Add(filter string, h Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.root
	for _, level := range strings.Split(filter, "/") {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[level]
		if !ok {
			child = &node{}
			n.children[level] = child
		}
		n = child
	}
	n.receivers = append(n.receivers, h)
	r.filters = append(r.filters, filter)
}

// Filters returns all filters in the order they were added.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.filters...)
}

// Find returns all receivers whose filter matches topic. Exact matches come
// before + matches, which come before # matches on the same level.
func (r *Router) Find(topic string) []Receiver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	levels := strings.Split(topic, "/")
	if strings.HasPrefix(levels[0], "$") {
		// wildcards never match $SYS style topics on the first level
		if child, ok := r.root.children[levels[0]]; ok {
			return find(child, levels[1:], nil)
		}
		return nil
	}
	return find(r.root, levels, nil)
}

func find(n *node, levels []string, result []Receiver) []Receiver {
	if len(levels) == 0 {
		result = append(result, n.receivers...)
		// "a/#" also matches "a"
		if hash, ok := n.children["#"]; ok {
			result = append(result, hash.receivers...)
		}
		return result
	}
	if child, ok := n.children[levels[0]]; ok {
		result = find(child, levels[1:], result)
	}
	if child, ok := n.children["+"]; ok {
		result = find(child, levels[1:], result)
	}
	if hash, ok := n.children["#"]; ok {
		result = append(result, hash.receivers...)
	}
	return result
}

func (r *Router) Receive(msg spacestate.Message) {
	for _, h := range r.Find(msg.Topic) {
		h.Receive(msg)
	}
}

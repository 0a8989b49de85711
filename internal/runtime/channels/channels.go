// Package channels owns the channel naming contract consumers depend on: one
// versioned channel per aggregate family plus a fixed dead-letter channel.
package channels

import "fmt"

// Family is an aggregate family.
type Family string

const (
	Card         Family = "card"
	User         Family = "user"
	Transaction  Family = "transaction"
	Notification Family = "notification"
	System       Family = "system"
)

// DefaultNamespace prefixes every channel name.
const DefaultNamespace = "eventflow"

// Version of the naming contract. Bumping it renames every channel.
const Version = "v1"

// Families lists the aggregate families in a stable order.
func Families() []Family {
	return []Family{Card, User, Transaction, Notification, System}
}

// Naming resolves channel names under a namespace.
type Naming struct {
	Namespace string
}

// NewNaming returns a Naming for namespace, or DefaultNamespace when empty.
func NewNaming(namespace string) Naming {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Naming{Namespace: namespace}
}

// ForFamily returns the channel for an aggregate family, for example
// "eventflow.card.v1".
func (n Naming) ForFamily(f Family) (string, error) {
	if !IsFamily(string(f)) {
		return "", fmt.Errorf("eventflow: unknown aggregate family %q", f)
	}
	return n.name(string(f)), nil
}

// DeadLetter returns the dead-letter channel name.
func (n Naming) DeadLetter() string {
	return n.name("deadletter")
}

// All returns every family channel followed by the dead-letter channel.
func (n Naming) All() []string {
	out := make([]string, 0, len(Families())+1)
	for _, f := range Families() {
		out = append(out, n.name(string(f)))
	}
	return append(out, n.DeadLetter())
}

// IsKnown reports whether channel is part of this naming.
func (n Naming) IsKnown(channel string) bool {
	for _, c := range n.All() {
		if c == channel {
			return true
		}
	}
	return false
}

func (n Naming) name(segment string) string {
	ns := n.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + "." + segment + "." + Version
}

// IsFamily reports whether s names a known aggregate family.
func IsFamily(s string) bool {
	for _, f := range Families() {
		if string(f) == s {
			return true
		}
	}
	return false
}

// Package systemstream defines the fixed per-tenant system stream tree: the
// account/storageUsed/helpers structure plus customer-defined leaves such as
// email, language, and phoneNumber, addressable under either the private
// (":_system:") or customer (":system:") prefix namespace.
package systemstream

import "strings"

// Namespace identifies which of the two system-stream prefixes an id belongs to.
type Namespace string

const (
	// Private is the ":_system:" namespace: internal bookkeeping streams that are never exposed for customer
	// customization (account, storageUsed).
	Private Namespace = "private"
	// Customer is the ":system:" namespace: customer-defined leaves (email, language, phoneNumber, …).
	Customer Namespace = "customer"
)

// Prefix string constants, matching the glossary's "Prefixed stream" definition.
const (
	PrivatePrefix  = ":_system:"
	CustomerPrefix = ":system:"

	// LegacyPrefix is the retained backward-compatible dotted form ("." + leaf name), translated to one of the two
	// prefixes above by internal/legacyprefix.
	LegacyPrefix = "."

	// TagRootID is the root under which legacy `tags` are mapped as streams (spec §4.10).
	TagRootID = PrivatePrefix + "tag-root"
)

// Definition describes one node of the fixed system stream tree.
type Definition struct {
	ID       string
	Name     string
	ParentID string // "" for root-level definitions
	Ns       Namespace

	// Indexed marks a leaf whose value must be unique across all users (e.g. email).
	Indexed bool
	// RequiredAtRegistration marks a leaf that registration must supply a value for.
	RequiredAtRegistration bool
}

// Tree is the fixed, per-tenant set of system stream definitions. It never varies by user: every user's stream
// collection contains exactly these nodes in addition to whatever custom streams they create. Customer leaves beyond
// the three shown here (email, language, phoneNumber) are configured per-deployment in a production system; this core
// ships the canonical three: customer-defined leaves such as email, language, and phoneNumber.
var Tree = []Definition{
	{ID: PrivatePrefix + "account", Name: "account", Ns: Private},
	{ID: PrivatePrefix + "storageUsed", Name: "storageUsed", ParentID: PrivatePrefix + "account", Ns: Private},
	{ID: PrivatePrefix + "helpers", Name: "helpers", Ns: Private},
	{ID: TagRootID, Name: "tag-root", Ns: Private},

	{ID: CustomerPrefix + "email", Name: "email", ParentID: PrivatePrefix + "account", Ns: Customer, Indexed: true, RequiredAtRegistration: true},
	{ID: CustomerPrefix + "language", Name: "language", ParentID: PrivatePrefix + "account", Ns: Customer},
	{ID: CustomerPrefix + "phoneNumber", Name: "phoneNumber", ParentID: PrivatePrefix + "account", Ns: Customer},
}

var byID map[string]Definition

func init() {
	byID = make(map[string]Definition, len(Tree))
	for _, d := range Tree {
		byID[d.ID] = d
	}
}

// Lookup returns the definition for a fully-prefixed system stream id.
func Lookup(id string) (Definition, bool) {
	d, ok := byID[id]
	return d, ok
}

// IsSystemStreamID reports whether id falls under either prefix namespace, i.e. whether it names a system stream
// (registered or not — callers that need "is this a *known* system stream" should use Lookup instead).
func IsSystemStreamID(id string) bool {
	return strings.HasPrefix(id, PrivatePrefix) || strings.HasPrefix(id, CustomerPrefix)
}

// IsPrivate reports whether id is in the private (":_system:") namespace.
func IsPrivate(id string) bool {
	return strings.HasPrefix(id, PrivatePrefix)
}

// IndexedLeaves returns the definitions whose values must be enforced unique across users.
func IndexedLeaves() []Definition {
	var out []Definition
	for _, d := range Tree {
		if d.Indexed {
			out = append(out, d)
		}
	}
	return out
}

// RequiredAtRegistration returns the definitions a new registration must supply a value for.
func RequiredAtRegistration() []Definition {
	var out []Definition
	for _, d := range Tree {
		if d.RequiredAtRegistration {
			out = append(out, d)
		}
	}
	return out
}

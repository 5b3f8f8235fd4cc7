// Package path implements the hierarchical addressing façade: a tree of
// dotted-path nodes that resolve into (api_name, member_name) pairs and
// forward to the bus client.
//
// The tree is explicit, not reflective: children are created with Child or
// Path rather than attribute magic, so `root.Path("auth", "users", "get")`
// is the Go spelling of `bus.auth.users.get`. For any leaf, the api name
// is the dotted concatenation of the ancestors between root and leaf, and
// the leaf's own name is the procedure or event name:
//
//	root.Path("auth", "users", "get")  →  api "auth.users", member "get"
//
// Each member operation comes in two surfaces: an asynchronous one that
// returns a channel (CallAsync, FireAsync) and a blocking one (Call, Fire)
// that drives the same work to completion under the API's configured
// timeout.
package path

import (
	"context"
	"sort"
	"strings"

	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/busschema"
	"github.com/bx-d/bus/client"
	"github.com/bx-d/bus/consumer"
)

// BusPath is one node in the addressing tree. The root is the only
// nameless node; all others carry a name and a parent.
type BusPath struct {
	name   string
	parent *BusPath
	client *client.Client
}

// AsyncResult carries the outcome of an asynchronous call.
type AsyncResult struct {
	Value interface{}
	Err   error
}

// NewRoot constructs the nameless root node for a client.
func NewRoot(c *client.Client) *BusPath {
	return &BusPath{client: c}
}

// New constructs a node explicitly. A named node requires a parent, and
// only the root may be nameless — anything else is a configuration error.
func New(c *client.Client, name string, parent *BusPath) (*BusPath, error) {
	if parent == nil && name != "" {
		return nil, buserr.Wrapf(buserr.ErrInvalidBusPathConfig, "named node %q constructed without a parent", name)
	}
	if parent != nil && name == "" {
		return nil, buserr.Wrap(buserr.ErrInvalidBusPathConfig, "only the root node may be nameless")
	}
	return &BusPath{name: name, parent: parent, client: c}, nil
}

// Child returns the node one segment below this one.
func (p *BusPath) Child(name string) *BusPath {
	return &BusPath{name: name, parent: p, client: p.client}
}

// Path walks several segments at once: root.Path("auth", "get_user") is
// root.Child("auth").Child("get_user").
func (p *BusPath) Path(segments ...string) *BusPath {
	node := p
	for _, segment := range segments {
		node = node.Child(segment)
	}
	return node
}

// Name returns this node's own segment name (empty for the root).
func (p *BusPath) Name() string { return p.name }

// Ancestors returns the chain from root to this node. The nameless root is
// included; pass includeSelf=false to stop at the parent.
func (p *BusPath) Ancestors(includeSelf bool) []*BusPath {
	var chain []*BusPath
	node := p
	if !includeSelf {
		node = p.parent
	}
	for ; node != nil; node = node.parent {
		chain = append(chain, node)
	}
	// Walked leaf-to-root; callers want root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// APIName is the dotted path of all ancestors below the root, excluding
// this node's own name: for root.a.b.c it is "a.b".
func (p *BusPath) APIName() string {
	return joinNames(p.Ancestors(false))
}

// FullyQualifiedName is the dotted path including this node's own name:
// for root.a.b.c it is "a.b.c".
func (p *BusPath) FullyQualifiedName() string {
	return joinNames(p.Ancestors(true))
}

func joinNames(nodes []*BusPath) string {
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if node.name != "" {
			names = append(names, node.name)
		}
	}
	return strings.Join(names, ".")
}

// CallAsync invokes this node as a remote procedure and returns a channel
// that yields the single outcome. The channel is buffered; abandoning it
// leaks nothing.
func (p *BusPath) CallAsync(ctx context.Context, kwargs map[string]interface{}) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		value, err := p.client.CallRpcRemote(ctx, p.APIName(), p.name, kwargs)
		out <- AsyncResult{Value: value, Err: err}
	}()
	return out
}

// Call invokes this node as a remote procedure and blocks for the result.
//
// The outer deadline is the API's rpc_timeout × 1.5: the client's own
// ReceiveResult already enforces the base timeout, so the outer bound only
// catches a transport that fails to honour it.
func (p *BusPath) Call(kwargs map[string]interface{}) (interface{}, error) {
	apiName := p.APIName()
	timeout := p.client.Config().API(apiName).RPCTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout+timeout/2)
	defer cancel()

	result := <-p.CallAsync(ctx, kwargs)
	if result.Err != nil && ctx.Err() != nil && !buserr.Is(result.Err, buserr.ErrRpcTimeout) {
		return nil, buserr.Wrapf(buserr.ErrRpcTimeout, "%s.%s exceeded its outer deadline", apiName, p.name)
	}
	return result.Value, result.Err
}

// FireAsync publishes this node as an event and returns a channel yielding
// the publish outcome.
func (p *BusPath) FireAsync(ctx context.Context, kwargs map[string]interface{}) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- p.client.FireEvent(ctx, p.APIName(), p.name, kwargs)
	}()
	return out
}

// Fire publishes this node as an event and blocks until the transport
// accepts it, bounded by the API's event_fire_timeout.
func (p *BusPath) Fire(kwargs map[string]interface{}) error {
	apiName := p.APIName()
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Config().API(apiName).EventFireTimeout)
	defer cancel()
	return <-p.FireAsync(ctx, kwargs)
}

// Listen subscribes listener to this node's event under listenerName.
func (p *BusPath) Listen(listener consumer.Listener, listenerName string) error {
	return p.client.ListenForEvent(p.APIName(), p.name, listener, listenerName)
}

// Dir lists what lives under this node, shell-style: APIs whose name
// extends this node's path contribute their next path segment, and an API
// whose name equals this node's path contributes its own member names.
func (p *BusPath) Dir() []string {
	prefix := p.FullyQualifiedName()
	seen := map[string]bool{}
	var names []string

	for _, apiName := range p.client.Registry().Names() {
		if apiName == prefix {
			a, err := p.client.Registry().Get(apiName)
			if err != nil {
				continue
			}
			for _, member := range a.MemberNames() {
				if !seen[member] {
					seen[member] = true
					names = append(names, member)
				}
			}
			continue
		}
		rest, ok := cutPrefix(apiName, prefix)
		if !ok {
			continue
		}
		segment, _, _ := strings.Cut(rest, ".")
		if segment != "" && !seen[segment] {
			seen[segment] = true
			names = append(names, segment)
		}
	}

	sort.Strings(names)
	return names
}

// cutPrefix strips the node path (plus its trailing dot) from an API name.
// The root's empty prefix matches every API.
func cutPrefix(apiName, prefix string) (string, bool) {
	if prefix == "" {
		return apiName, true
	}
	return strings.CutPrefix(apiName, prefix+".")
}

// Schema returns the client's schema provider. Only the root node carries
// schema access; children fail with ErrSchemaOnlyOnRoot.
func (p *BusPath) Schema() (busschema.Provider, error) {
	if p.parent != nil {
		return nil, buserr.Wrapf(buserr.ErrSchemaOnlyOnRoot, "node %q", p.FullyQualifiedName())
	}
	if p.client.Schema() == nil {
		return nil, buserr.Wrap(buserr.ErrSchemaNotFound, "no schema provider configured")
	}
	return p.client.Schema(), nil
}

// ParameterSchema returns the declared parameter schema for an RPC,
// root-only.
func (p *BusPath) ParameterSchema(apiName, name string) (map[string]interface{}, error) {
	provider, err := p.Schema()
	if err != nil {
		return nil, err
	}
	schema, err := provider.GetRpcSchema(apiName, name)
	if err != nil {
		return nil, err
	}
	return schema.Parameters, nil
}

// ResponseSchema returns the declared response schema for an RPC, root-only.
func (p *BusPath) ResponseSchema(apiName, name string) (map[string]interface{}, error) {
	provider, err := p.Schema()
	if err != nil {
		return nil, err
	}
	schema, err := provider.GetRpcSchema(apiName, name)
	if err != nil {
		return nil, err
	}
	return schema.Response, nil
}

// ValidateParameters validates kwargs against the registered schema,
// root-only.
func (p *BusPath) ValidateParameters(apiName, name string, kwargs map[string]interface{}) error {
	provider, err := p.Schema()
	if err != nil {
		return err
	}
	return provider.ValidateParameters(apiName, name, kwargs)
}

package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
)

const (
	metaKeyServer     = "mcpaggregator.server"
	metaKeyNativeName = "mcpaggregator.native_name"
	metaKeyNativeURI  = "mcpaggregator.native_uri"
)

// State is a server's position in the mount lifecycle.
type State string

const (
	StateUnmounted    State = "unmounted"
	StateMounting     State = "mounting"
	StateMounted      State = "mounted"
	StateUnmounting   State = "unmounting"
	StateMountFailed  State = "mount_failed"
	StateUnresponsive State = "unresponsive"
)

// StatusReport is a point-in-time snapshot of the mount table.
type StatusReport struct {
	Servers  ServerCounts `json:"servers"`
	Tools    ToolCounts   `json:"tools"`
	Prefixes []string     `json:"prefixes"`
}

type ServerCounts struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Mounted  int `json:"mounted"`
	Disabled int `json:"disabled"`
}

type ToolCounts struct {
	Total int `json:"total"`
}

// HealthReport summarizes one Check pass.
type HealthReport struct {
	ServersChecked int            `json:"servers_checked"`
	Healthy        int            `json:"healthy"`
	Unresponsive   int            `json:"unresponsive"`
	Results        []HealthResult `json:"results"`
}

// HealthResult is one backend's probe outcome.
type HealthResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type serverEntry struct {
	desc    backend.Descriptor
	prefix  string
	state   State
	session backend.Session

	// Namespaced clones of the backend's inventory, refreshed on
	// list-changed notifications.
	tools     []*mcp.Tool
	resources []*mcp.Resource
	prompts   []*mcp.Prompt
}

type toolRef struct {
	server string
	native string
}

type resourceRef struct {
	server    string
	nativeURI string
}

type promptRef struct {
	server string
	native string
}

// Manager owns the mount table. All mutations are serialized under mu;
// reads take snapshots so no caller observes a half-applied mount.
type Manager struct {
	logger       *slog.Logger
	policy       PrefixPolicy
	factory      backend.Factory
	coordinator  *Coordinator
	checkTimeout time.Duration

	mu        sync.RWMutex
	servers   map[string]*serverEntry
	disabled  map[string]backend.Descriptor
	prefixes  map[string]string
	tools     map[string]toolRef
	resources map[string]resourceRef
	prompts   map[string]promptRef
}

// NewManager builds a manager around a coordinator. A nil coordinator is
// allowed and yields a manager without message coordination: every Mount
// fails with ErrCapabilityUnavailable, which MessageCoordination reports
// up front.
func NewManager(coordinator *Coordinator, opts *Options) *Manager {
	o := opts.withDefaults()
	m := &Manager{
		logger:       o.Logger,
		policy:       o.Prefix,
		factory:      o.Factory,
		coordinator:  coordinator,
		checkTimeout: o.CheckTimeout,
		servers:      make(map[string]*serverEntry),
		disabled:     make(map[string]backend.Descriptor),
		prefixes:     make(map[string]string),
		tools:        make(map[string]toolRef),
		resources:    make(map[string]resourceRef),
		prompts:      make(map[string]promptRef),
	}
	if coordinator != nil {
		coordinator.SetRefresh(m.refreshInventory)
	}
	return m
}

// MessageCoordination reports whether mounted backends can deliver
// notifications to a frontend. Without it no backend can be mounted.
func (m *Manager) MessageCoordination() bool { return m.coordinator != nil }

// Mount connects the described backend, namespaces its inventory, and adds
// it to the mount table. The mount is transactional: any failure leaves no
// trace of the attempt.
func (m *Manager) Mount(ctx context.Context, desc backend.Descriptor) error {
	if m.coordinator == nil {
		return fmt.Errorf("%w: cannot mount %q", ErrCapabilityUnavailable, desc.Name)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	if !desc.Enabled {
		m.mu.Lock()
		m.disabled[desc.Name] = desc
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDisabled, desc.Name)
	}
	prefix, err := m.policy.Compute(desc)
	if err != nil {
		return err
	}

	// Reserve name and prefix before dialing so a concurrent mount of the
	// same name fails fast instead of racing the connect.
	m.mu.Lock()
	if _, exists := m.servers[desc.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyMounted, desc.Name)
	}
	if holder, taken := m.prefixes[prefix]; taken {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q held by %q", ErrPrefixCollision, prefix, holder)
	}
	entry := &serverEntry{desc: desc, prefix: prefix, state: StateMounting}
	m.servers[desc.Name] = entry
	m.prefixes[prefix] = desc.Name
	delete(m.disabled, desc.Name)
	m.mu.Unlock()

	rollback := func() {
		m.mu.Lock()
		delete(m.servers, desc.Name)
		delete(m.prefixes, prefix)
		m.mu.Unlock()
	}

	session, err := m.factory(ctx, desc, m.coordinator.Handlers(desc.Name))
	if err != nil {
		rollback()
		m.logger.Warn("mount failed", "server", desc.Name, "error", err)
		return fmt.Errorf("%w: %q: %v", ErrBackendUnreachable, desc.Name, err)
	}

	tools, resources, prompts, err := m.fetchInventory(ctx, session)
	if err != nil {
		_ = session.Close()
		rollback()
		m.logger.Warn("mount failed", "server", desc.Name, "error", err)
		return fmt.Errorf("%w: %q: %v", ErrBackendUnreachable, desc.Name, err)
	}

	m.mu.Lock()
	entry.session = session
	entry.state = StateMounted
	entry.tools = m.namespaceTools(desc.Name, prefix, tools)
	entry.resources = m.namespaceResources(desc.Name, prefix, resources)
	entry.prompts = m.namespacePrompts(desc.Name, prefix, prompts)
	m.reindexLocked(desc.Name, entry)
	m.mu.Unlock()

	// Backend registration gates dispatch: once unregistered, in-flight
	// notifications from this backend are dropped.
	m.coordinator.Router().Register(desc.Name, func(context.Context, Envelope) {})

	m.logger.Info("server mounted",
		"server", desc.Name,
		"prefix", prefix,
		"tools", len(entry.tools),
		"resources", len(entry.resources),
		"prompts", len(entry.prompts))
	return nil
}

// Unmount removes a mounted backend: its router subscriber is dropped, its
// session closed (terminating any spawned process), and its namespaced
// identifiers withdrawn. Operations racing the unmount fail with
// ErrBackendGone rather than hang.
func (m *Manager) Unmount(ctx context.Context, name string) error {
	m.mu.Lock()
	entry, ok := m.servers[name]
	if !ok || entry.state == StateMounting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotMounted, name)
	}
	entry.state = StateUnmounting
	delete(m.servers, name)
	delete(m.prefixes, entry.prefix)
	m.dropIndexLocked(name)
	session := entry.session
	m.mu.Unlock()

	m.coordinator.Router().Unregister(name)

	done := make(chan error, 1)
	go func() { done <- session.Close() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, backend.ErrClosed) {
			m.logger.Warn("session close failed", "server", name, "error", err)
		}
	case <-ctx.Done():
		m.logger.Warn("session close abandoned", "server", name, "error", ctx.Err())
	}

	m.logger.Info("server unmounted", "server", name)
	return nil
}

// MountAllEnabled mounts every enabled descriptor. Failures are logged per
// backend and collected in the returned map; siblings are unaffected.
// Disabled descriptors are recorded and skipped without an error.
func (m *Manager) MountAllEnabled(ctx context.Context, descs []backend.Descriptor) map[string]error {
	results := make(map[string]error, len(descs))
	for _, desc := range descs {
		err := m.Mount(ctx, desc)
		if errors.Is(err, ErrDisabled) {
			continue
		}
		results[desc.Name] = err
		if err != nil {
			m.logger.Warn("startup mount failed", "server", desc.Name, "error", err)
		}
	}
	return results
}

// CallTool routes a namespaced tool call to the owning backend under its
// native name.
func (m *Manager) CallTool(ctx context.Context, namespaced string, args any) (*mcp.CallToolResult, error) {
	m.mu.RLock()
	ref, ok := m.tools[namespaced]
	var session backend.Session
	if ok {
		if entry, live := m.servers[ref.server]; live {
			session = entry.session
		}
	}
	m.mu.RUnlock()

	if session == nil {
		return nil, fmt.Errorf("%w: no backend serves tool %q", ErrBackendGone, namespaced)
	}
	res, err := session.CallTool(ctx, ref.native, args)
	if err != nil {
		return nil, m.coerceSessionErr(ref.server, err)
	}
	return res, nil
}

// ReadResource routes a namespaced resource URI to the owning backend.
func (m *Manager) ReadResource(ctx context.Context, namespacedURI string) (*mcp.ReadResourceResult, error) {
	m.mu.RLock()
	ref, ok := m.resources[namespacedURI]
	var session backend.Session
	if ok {
		if entry, live := m.servers[ref.server]; live {
			session = entry.session
		}
	}
	m.mu.RUnlock()

	if session == nil {
		return nil, fmt.Errorf("%w: no backend serves resource %q", ErrBackendGone, namespacedURI)
	}
	res, err := session.ReadResource(ctx, ref.nativeURI)
	if err != nil {
		return nil, m.coerceSessionErr(ref.server, err)
	}
	return res, nil
}

// GetPrompt routes a namespaced prompt to the owning backend under its
// native name.
func (m *Manager) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	m.mu.RLock()
	ref, ok := m.prompts[params.Name]
	var session backend.Session
	if ok {
		if entry, live := m.servers[ref.server]; live {
			session = entry.session
		}
	}
	m.mu.RUnlock()

	if session == nil {
		return nil, fmt.Errorf("%w: no backend serves prompt %q", ErrBackendGone, params.Name)
	}
	native := *params
	native.Name = ref.native
	res, err := session.GetPrompt(ctx, &native)
	if err != nil {
		return nil, m.coerceSessionErr(ref.server, err)
	}
	return res, nil
}

// Check pings the named backends concurrently, each probe bounded by
// timeout (the configured default when non-positive). Total duration is
// bounded by the slowest probe, not the sum. No names means all mounted
// backends; zero mounted backends yields an empty report.
func (m *Manager) Check(ctx context.Context, timeout time.Duration, names ...string) HealthReport {
	if timeout <= 0 {
		timeout = m.checkTimeout
	}

	type probe struct {
		name    string
		session backend.Session
	}
	m.mu.RLock()
	var probes []probe
	if len(names) == 0 {
		for name, entry := range m.servers {
			if entry.state == StateMounted || entry.state == StateUnresponsive {
				probes = append(probes, probe{name, entry.session})
			}
		}
	} else {
		for _, name := range names {
			entry, ok := m.servers[name]
			if !ok || entry.session == nil {
				probes = append(probes, probe{name, nil})
				continue
			}
			probes = append(probes, probe{name, entry.session})
		}
	}
	m.mu.RUnlock()

	results := make([]error, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		if p.session == nil {
			results[i] = fmt.Errorf("%w: %q", ErrNotMounted, p.name)
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = p.session.Ping(probeCtx)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{ServersChecked: len(probes), Results: []HealthResult{}}
	for i, p := range probes {
		err := results[i]
		if err == nil {
			report.Healthy++
			report.Results = append(report.Results, HealthResult{Name: p.name, Healthy: true})
			m.setState(p.name, StateMounted)
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %q: %v", ErrBackendTimeout, p.name, err)
		}
		report.Unresponsive++
		report.Results = append(report.Results, HealthResult{Name: p.name, Detail: err.Error()})
		m.setState(p.name, StateUnresponsive)
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Name < report.Results[j].Name })
	return report
}

// Status returns a read-only snapshot of the mount table.
func (m *Manager) Status() StatusReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := StatusReport{
		Servers: ServerCounts{
			Total:    len(m.servers) + len(m.disabled),
			Enabled:  len(m.servers),
			Mounted:  0,
			Disabled: len(m.disabled),
		},
		Tools: ToolCounts{Total: len(m.tools)},
	}
	for _, entry := range m.servers {
		if entry.state == StateMounted || entry.state == StateUnresponsive {
			report.Servers.Mounted++
		}
	}
	report.Prefixes = make([]string, 0, len(m.prefixes))
	for prefix := range m.prefixes {
		report.Prefixes = append(report.Prefixes, prefix)
	}
	sort.Strings(report.Prefixes)
	return report
}

// ServerState reports where a name sits in the mount lifecycle. Unknown
// names are unmounted.
func (m *Manager) ServerState(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.servers[name]; ok {
		return entry.state
	}
	return StateUnmounted
}

// Tools returns the namespaced tools of every mounted backend, sorted by
// name.
func (m *Manager) Tools() []*mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*mcp.Tool
	for _, entry := range m.servers {
		out = append(out, entry.tools...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resources returns the namespaced resources of every mounted backend,
// sorted by URI.
func (m *Manager) Resources() []*mcp.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*mcp.Resource
	for _, entry := range m.servers {
		out = append(out, entry.resources...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Prompts returns the namespaced prompts of every mounted backend, sorted
// by name.
func (m *Manager) Prompts() []*mcp.Prompt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*mcp.Prompt
	for _, entry := range m.servers {
		out = append(out, entry.prompts...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NamespacedResourceURI maps a backend's native resource URI to the URI the
// frontend knows it by.
func (m *Manager) NamespacedResourceURI(server, nativeURI string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.servers[server]
	if !ok {
		return "", false
	}
	return m.policy.NamespacedURI(entry.prefix, nativeURI), true
}

// Shutdown unmounts every backend, joining the per-backend errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.Unmount(ctx, name); err != nil && !errors.Is(err, ErrNotMounted) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refreshInventory re-fetches one inventory kind for a backend and swaps it
// into the entry. Installed on the coordinator so list-changed envelopes
// refresh before they reach the frontend.
func (m *Manager) refreshInventory(ctx context.Context, name string, kind Kind) error {
	m.mu.RLock()
	entry, ok := m.servers[name]
	var session backend.Session
	var prefix string
	if ok && entry.session != nil {
		session = entry.session
		prefix = entry.prefix
	}
	m.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("%w: %q", ErrNotMounted, name)
	}

	var tools []*mcp.Tool
	var resources []*mcp.Resource
	var prompts []*mcp.Prompt
	var err error
	switch kind {
	case KindToolListChanged:
		tools, err = session.ListTools(ctx)
	case KindResourceListChanged:
		resources, err = session.ListResources(ctx)
	case KindPromptListChanged:
		prompts, err = session.ListPrompts(ctx)
	default:
		return nil
	}
	if err != nil {
		return m.coerceSessionErr(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok = m.servers[name]
	if !ok || entry.session != session {
		return fmt.Errorf("%w: %q", ErrBackendGone, name)
	}
	switch kind {
	case KindToolListChanged:
		entry.tools = m.namespaceTools(name, prefix, tools)
	case KindResourceListChanged:
		entry.resources = m.namespaceResources(name, prefix, resources)
	case KindPromptListChanged:
		entry.prompts = m.namespacePrompts(name, prefix, prompts)
	}
	m.reindexLocked(name, entry)
	return nil
}

func (m *Manager) fetchInventory(ctx context.Context, session backend.Session) ([]*mcp.Tool, []*mcp.Resource, []*mcp.Prompt, error) {
	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list tools: %w", err)
	}
	resources, err := session.ListResources(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list resources: %w", err)
	}
	prompts, err := session.ListPrompts(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list prompts: %w", err)
	}
	return tools, resources, prompts, nil
}

func (m *Manager) namespaceTools(server, prefix string, tools []*mcp.Tool) []*mcp.Tool {
	out := make([]*mcp.Tool, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		clone := *tool
		clone.Name = m.policy.Namespaced(prefix, tool.Name)
		clone.Meta = withMeta(tool.Meta, map[string]any{
			metaKeyServer:     server,
			metaKeyNativeName: tool.Name,
		})
		out = append(out, &clone)
	}
	return out
}

func (m *Manager) namespaceResources(server, prefix string, resources []*mcp.Resource) []*mcp.Resource {
	out := make([]*mcp.Resource, 0, len(resources))
	for _, res := range resources {
		if res == nil {
			continue
		}
		clone := *res
		clone.URI = m.policy.NamespacedURI(prefix, res.URI)
		clone.Meta = withMeta(res.Meta, map[string]any{
			metaKeyServer:    server,
			metaKeyNativeURI: res.URI,
		})
		out = append(out, &clone)
	}
	return out
}

func (m *Manager) namespacePrompts(server, prefix string, prompts []*mcp.Prompt) []*mcp.Prompt {
	out := make([]*mcp.Prompt, 0, len(prompts))
	for _, prompt := range prompts {
		if prompt == nil {
			continue
		}
		clone := *prompt
		clone.Name = m.policy.Namespaced(prefix, prompt.Name)
		clone.Meta = withMeta(prompt.Meta, map[string]any{
			metaKeyServer:     server,
			metaKeyNativeName: prompt.Name,
		})
		out = append(out, &clone)
	}
	return out
}

// reindexLocked rebuilds the global identifier indexes for one backend.
// Caller holds mu.
func (m *Manager) reindexLocked(name string, entry *serverEntry) {
	m.dropIndexLocked(name)
	for _, tool := range entry.tools {
		native, _ := tool.Meta[metaKeyNativeName].(string)
		m.tools[tool.Name] = toolRef{server: name, native: native}
	}
	for _, res := range entry.resources {
		native, _ := res.Meta[metaKeyNativeURI].(string)
		m.resources[res.URI] = resourceRef{server: name, nativeURI: native}
	}
	for _, prompt := range entry.prompts {
		native, _ := prompt.Meta[metaKeyNativeName].(string)
		m.prompts[prompt.Name] = promptRef{server: name, native: native}
	}
}

// dropIndexLocked removes every index entry owned by one backend. Caller
// holds mu.
func (m *Manager) dropIndexLocked(name string) {
	for key, ref := range m.tools {
		if ref.server == name {
			delete(m.tools, key)
		}
	}
	for key, ref := range m.resources {
		if ref.server == name {
			delete(m.resources, key)
		}
	}
	for key, ref := range m.prompts {
		if ref.server == name {
			delete(m.prompts, key)
		}
	}
}

func (m *Manager) setState(name string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.servers[name]; ok {
		if entry.state == StateMounted || entry.state == StateUnresponsive {
			entry.state = state
		}
	}
}

// coerceSessionErr maps a dead-session failure onto ErrBackendGone so
// callers racing an unmount or connection loss see one error class.
func (m *Manager) coerceSessionErr(name string, err error) error {
	if errors.Is(err, backend.ErrClosed) {
		return fmt.Errorf("%w: %q: %v", ErrBackendGone, name, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %q: %v", ErrBackendTimeout, name, err)
	}
	return err
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}

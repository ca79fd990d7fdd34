package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BeranItService/chatbot/internal/model/responder"
)

// GenericName is the bot namespace whose responders serve every bot.
const GenericName = "generic"

var (
	ErrUnknownResponder = errors.New("unknown responder")
	ErrUnknownType      = errors.New("unknown responder type")
	ErrInvalidWeight    = errors.New("weight must be within [0, 1]")
	ErrNoCatalogue      = errors.New("no catalogue path configured")
)

// Factory builds the implementation for one catalogue entry.
type Factory func(ctx context.Context, spec Spec) (responder.Responder, error)

// Spec is one catalogue entry as read from YAML.
type Spec struct {
	responder.Descriptor `yaml:",inline"`
	Config yaml.Node `yaml:"config"`
}

// Decode unmarshals the type specific config block into v.
func (s Spec) Decode(v any) error {
	if s.Config.Kind == 0 {
		return nil
	}
	return s.Config.Decode(v)
}

type catalogue struct {
	Characters []Spec `yaml:"characters"`
}

// Options configures a Registry.
type Options struct {
	Path      string
	Factories map[string]Factory
	Logger    *slog.Logger
}

// Registry is the reloadable catalogue of responders. Readers take an
// immutable Snapshot; reloads and weight changes swap in a new one.
type Registry struct {
	mu   sync.RWMutex
	snap *Snapshot

	path      string
	factories map[string]Factory
	logger    *slog.Logger
}

// New returns a registry with an empty snapshot.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		snap:      newSnapshot(nil, 0),
		path:      opts.Path,
		factories: opts.Factories,
		logger:    logger.With("component", "registry"),
	}
}

// Path returns the catalogue file the registry reloads from.
func (r *Registry) Path() string {
	return r.path
}

// Snapshot returns the current immutable catalogue.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Replace installs entries as the new catalogue.
func (r *Registry) Replace(entries []responder.Entry) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = newSnapshot(entries, r.snap.version+1)
	return r.snap
}

// Reload rebuilds the catalogue from the configured file. On error the
// previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	if r.path == "" {
		return ErrNoCatalogue
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read catalogue %s: %w", r.path, err)
	}
	entries, err := r.Build(ctx, data)
	if err != nil {
		return fmt.Errorf("load catalogue %s: %w", r.path, err)
	}
	snap := r.Replace(entries)
	r.logger.Info("catalogue loaded", "path", r.path, "responders", len(entries), "version", snap.version)
	return nil
}

// Build decodes a YAML catalogue and instantiates every entry.
func (r *Registry) Build(ctx context.Context, data []byte) ([]responder.Entry, error) {
	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	entries := make([]responder.Entry, 0, len(cat.Characters))
	seen := make(map[string]struct{}, len(cat.Characters))
	for i, spec := range cat.Characters {
		if spec.ID == "" {
			return nil, fmt.Errorf("character #%d: id is required", i)
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("character %s: name is required", spec.ID)
		}
		if spec.Weight < 0 || spec.Weight > 1 {
			return nil, fmt.Errorf("character %s: %w", spec.ID, ErrInvalidWeight)
		}
		if spec.User != "" {
			spec.ID = spec.User + "/" + spec.ID
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("character %s: duplicate id", spec.ID)
		}
		seen[spec.ID] = struct{}{}

		factory, ok := r.factories[spec.Type]
		if !ok {
			return nil, fmt.Errorf("character %s: %w %q", spec.ID, ErrUnknownType, spec.Type)
		}
		impl, err := factory(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("character %s: %w", spec.ID, err)
		}
		entries = append(entries, responder.Entry{Descriptor: spec.Descriptor, Responder: impl})
	}
	return entries, nil
}

// SetWeight changes the default weight of a responder.
func (r *Registry) SetWeight(id string, weight float64) error {
	if weight < 0 || weight > 1 {
		return ErrInvalidWeight
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.snap.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResponder, id)
	}
	entries := slices.Clone(r.snap.entries)
	entries[idx].Weight = weight
	r.snap = newSnapshot(entries, r.snap.version+1)
	return nil
}

// Snapshot is an immutable view of the catalogue.
type Snapshot struct {
	entries  []responder.Entry
	byID     map[string]int
	version  int
	loadedAt time.Time
}

func newSnapshot(entries []responder.Entry, version int) *Snapshot {
	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		byID[e.ID] = i
	}
	return &Snapshot{entries: entries, byID: byID, version: version, loadedAt: time.Now().UTC()}
}

func (s *Snapshot) Version() int        { return s.version }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
func (s *Snapshot) Len() int            { return len(s.entries) }

// Get looks up a responder by id.
func (s *Snapshot) Get(id string) (responder.Entry, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return responder.Entry{}, false
	}
	return s.entries[idx], true
}

// Applicable returns the responders serving bot in lang for user, sorted by
// level with catalogue order kept among equal levels. Generic responders
// follow the bot's own.
func (s *Snapshot) Applicable(bot, lang, user string) []responder.Entry {
	var own, generic []responder.Entry
	for _, e := range s.entries {
		if !e.Supports(lang) || !visibleTo(e.Descriptor, user) {
			continue
		}
		switch {
		case strings.EqualFold(e.Name, bot):
			own = append(own, e)
		case strings.EqualFold(e.Name, GenericName):
			generic = append(generic, e)
		}
	}
	if len(own) == 0 {
		return nil
	}
	if !strings.EqualFold(bot, GenericName) {
		own = append(own, generic...)
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Level < own[j].Level })
	return own
}

func visibleTo(d responder.Descriptor, user string) bool {
	return d.User == "" || d.User == user
}

// Characters lists every responder supporting lang, in catalogue order.
// An empty lang lists all of them.
func (s *Snapshot) Characters(lang string) []responder.Descriptor {
	out := make([]responder.Descriptor, 0, len(s.entries))
	for _, e := range s.entries {
		if lang == "" || e.Supports(lang) {
			out = append(out, e.Descriptor)
		}
	}
	return out
}

// BotNames lists the distinct bot namespaces, excluding generic.
func (s *Snapshot) BotNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, e := range s.entries {
		if strings.EqualFold(e.Name, GenericName) {
			continue
		}
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

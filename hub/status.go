package hub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// StatusState is the coarse workflow state behind a status.
type StatusState string

const (
	StateNotStarted StatusState = "not_started"
	StateInProgress StatusState = "in_progress"
	StateDone       StatusState = "done"
	StateBlocked    StatusState = "blocked"
)

const (
	defaultStatusState = StateInProgress
	defaultStatusColor = "#eeeeee"
)

var validStatusStates = map[StatusState]struct{}{
	StateNotStarted: {},
	StateInProgress: {},
	StateDone:       {},
	StateBlocked:    {},
}

// statusScopeTypes are the entity type names a status scope may contain.
var statusScopeTypes = map[string]struct{}{
	"folder":         {},
	"task":           {},
	"product":        {},
	"version":        {},
	"representation": {},
	"workfile":       {},
}

var statusColorRegex = regexp.MustCompile(`^#[a-f0-9]{6}$`)

const slugSplitChars = " ,./\\;:!|*^#@~+-_="

// SlugifyName reduces a status name to its comparison form: ASCII
// letters and digits, lower-cased, words joined by underscore. Used to
// treat e.g. "In Progress" and "in-progress" as the same status.
func SlugifyName(name string) string {
	name = strings.ToLower(name)
	var parts []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}
	for _, r := range name {
		switch {
		case strings.ContainsRune(slugSplitChars, r):
			flush()
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			current.WriteRune(r)
		}
	}
	flush()
	return strings.Join(parts, "_")
}

// StatusDef is the wire shape of one project status.
type StatusDef struct {
	Name         string   `json:"name"`
	ShortName    string   `json:"shortName,omitempty"`
	State        string   `json:"state,omitempty"`
	Icon         string   `json:"icon,omitempty"`
	Color        string   `json:"color,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	OriginalName string   `json:"original_name,omitempty"`
}

type statusSnapshot struct {
	name      string
	shortName string
	icon      string
	state     StatusState
	color     string
	scope     string
	index     int
	hasIndex  bool
}

// Status is one workflow status definition of a project. Statuses keep
// their own change baseline; identity inside a project is the slugified
// name.
type Status struct {
	name      string
	shortName string
	icon      string
	state     StatusState
	color     string
	scope     map[string]struct{}

	slug     string
	index    int
	hasIndex bool
	isNew    bool
	list     *StatusList

	origin statusSnapshot
}

// newStatus validates and builds a status from a definition. Index and
// list attachment are filled by StatusList.
func newStatus(def StatusDef, isNew bool) (*Status, error) {
	status := &Status{
		name:      def.Name,
		shortName: def.ShortName,
		icon:      def.Icon,
		isNew:     isNew,
	}
	state := StatusState(def.State)
	if state == "" {
		state = defaultStatusState
	}
	if err := status.SetState(state); err != nil {
		return nil, err
	}
	color := def.Color
	if color == "" {
		color = defaultStatusColor
	}
	if err := status.SetColor(color); err != nil {
		return nil, err
	}
	if err := status.SetScope(def.Scope); err != nil {
		return nil, err
	}
	status.snapshot()
	return status, nil
}

// NewStatus builds a standalone status not yet attached to a project.
func NewStatus(def StatusDef) (*Status, error) {
	return newStatus(def, true)
}

func (s *Status) snapshot() {
	s.origin = statusSnapshot{
		name:      s.name,
		shortName: s.shortName,
		icon:      s.icon,
		state:     s.state,
		color:     s.color,
		scope:     s.scopeKey(),
		index:     s.index,
		hasIndex:  s.hasIndex,
	}
}

func (s *Status) scopeKey() string {
	return strings.Join(s.Scope(), ",")
}

func (s *Status) Name() string { return s.name }

func (s *Status) SetName(name string) {
	if name == s.name {
		return
	}
	s.name = name
	s.slug = ""
}

// SlugifiedName returns the cached comparison form of the name.
func (s *Status) SlugifiedName() string {
	if s.slug == "" {
		s.slug = SlugifyName(s.name)
	}
	return s.slug
}

func (s *Status) ShortName() string              { return s.shortName }
func (s *Status) SetShortName(shortName string)  { s.shortName = shortName }
func (s *Status) Icon() string                   { return s.icon }
func (s *Status) SetIcon(icon string)            { s.icon = icon }
func (s *Status) State() StatusState             { return s.state }
func (s *Status) Color() string                  { return s.color }

func (s *Status) SetState(state StatusState) error {
	if _, ok := validStatusStates[state]; !ok {
		return fmt.Errorf("invalid state %q", state)
	}
	s.state = state
	return nil
}

func (s *Status) SetColor(color string) error {
	color = strings.ToLower(color)
	if !statusColorRegex.MatchString(color) {
		return fmt.Errorf("invalid color value %q", color)
	}
	s.color = color
	return nil
}

// Scope returns the entity type names the status applies to, sorted.
// An empty scope was never narrowed and means every type.
func (s *Status) Scope() []string {
	if s.scope == nil {
		return nil
	}
	out := make([]string, 0, len(s.scope))
	for name := range s.scope {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetScope narrows the status to the given entity types. A nil scope
// resets to "all types".
func (s *Status) SetScope(scope []string) error {
	if scope == nil {
		s.scope = nil
		return nil
	}
	next := make(map[string]struct{}, len(scope))
	var invalid []string
	for _, name := range scope {
		if _, ok := statusScopeTypes[name]; !ok {
			invalid = append(invalid, name)
			continue
		}
		next[name] = struct{}{}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid scope values %q", strings.Join(invalid, ", "))
	}
	s.scope = next
	return nil
}

// AvailableForEntityType reports whether the status may be assigned to
// entities of the given type.
func (s *Status) AvailableForEntityType(entityType EntityType) bool {
	if s.scope == nil {
		return true
	}
	_, ok := s.scope[string(entityType)]
	return ok
}

// Index returns the position in the project status list, or -1 when the
// status is not attached to a project.
func (s *Status) Index() int {
	if !s.hasIndex {
		return -1
	}
	return s.index
}

func (s *Status) setIndex(index int) {
	s.index = index
	s.hasIndex = true
}

// Changed reports whether the status differs from its locked baseline.
func (s *Status) Changed() bool {
	return s.isNew ||
		s.origin.name != s.name ||
		s.origin.shortName != s.shortName ||
		s.origin.icon != s.icon ||
		s.origin.state != s.state ||
		s.origin.color != s.color ||
		s.origin.scope != s.scopeKey() ||
		s.origin.hasIndex != s.hasIndex ||
		s.origin.index != s.index
}

// Lock re-baselines the status after a commit.
func (s *Status) Lock() {
	s.isNew = false
	s.snapshot()
}

// ToDef serializes the status. A renamed persisted status carries its
// original name so the server can match it.
func (s *Status) ToDef() StatusDef {
	def := StatusDef{
		Name:      s.name,
		ShortName: s.shortName,
		State:     string(s.state),
		Icon:      s.icon,
		Color:     s.color,
		Scope:     s.fullScope(),
	}
	if !s.isNew && s.origin.name != "" && s.name != s.origin.name {
		def.OriginalName = s.origin.name
	}
	return def
}

func (s *Status) fullScope() []string {
	if s.scope != nil {
		return s.Scope()
	}
	out := make([]string, 0, len(statusScopeTypes))
	for name := range statusScopeTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StatusList is the ordered status catalog of a project.
type StatusList struct {
	statuses       []*Status
	scopeSupported bool
	originLength   int
	setCalled      bool
}

// NewStatusList hydrates the catalog from server definitions.
func NewStatusList(defs []StatusDef) (*StatusList, error) {
	list := &StatusList{}
	if err := list.hydrate(defs, false); err != nil {
		return nil, err
	}
	list.originLength = len(list.statuses)
	return list, nil
}

func (l *StatusList) hydrate(defs []StatusDef, isNew bool) error {
	statuses := make([]*Status, 0, len(defs))
	for idx, def := range defs {
		status, err := newStatus(def, isNew)
		if err != nil {
			return fmt.Errorf("status %q: %w", def.Name, err)
		}
		status.setIndex(idx)
		status.list = l
		status.snapshot()
		statuses = append(statuses, status)
	}
	l.statuses = statuses
	return nil
}

func (l *StatusList) setScopeSupported(supported bool) {
	l.scopeSupported = supported
}

func (l *StatusList) Len() int { return len(l.statuses) }

// Statuses returns the statuses in order. The returned slice is a copy,
// the statuses themselves are live.
func (l *StatusList) Statuses() []*Status {
	out := make([]*Status, len(l.statuses))
	copy(out, l.statuses)
	return out
}

// Get returns the status with the exact name, or nil.
func (l *StatusList) Get(name string) *Status {
	for _, status := range l.statuses {
		if status.Name() == name {
			return status
		}
	}
	return nil
}

// GetBySlugifiedName matches the name in its slugified form, so case
// and punctuation variants resolve to the same status.
func (l *StatusList) GetBySlugifiedName(name string) *Status {
	slug := SlugifyName(name)
	for _, status := range l.statuses {
		if status.SlugifiedName() == slug {
			return status
		}
	}
	return nil
}

// indexOf returns the position of the status object, or -1.
func (l *StatusList) indexOf(status *Status) int {
	for idx, item := range l.statuses {
		if item == status {
			return idx
		}
	}
	return -1
}

// Create validates, appends and returns a new status.
func (l *StatusList) Create(def StatusDef) (*Status, error) {
	status, err := newStatus(def, true)
	if err != nil {
		return nil, err
	}
	l.Insert(len(l.statuses), status)
	return status, nil
}

// Append adds the status at the end of the list.
func (l *StatusList) Append(status *Status) {
	l.Insert(len(l.statuses), status)
}

// Insert places the status at the given index. A status already in the
// list is moved; every status between the old and new position is
// reindexed.
func (l *StatusList) Insert(index int, status *Status) {
	if index < 0 {
		index = 0
	}
	if index > len(l.statuses) {
		index = len(l.statuses)
	}
	matching := l.indexOf(status)

	startIndex := index
	endIndex := len(l.statuses) + 1
	if matching >= 0 {
		if matching == index {
			status.setIndex(index)
			return
		}
		l.statuses = append(l.statuses[:matching], l.statuses[matching+1:]...)
		if index > len(l.statuses) {
			index = len(l.statuses)
		}
		if matching < index {
			startIndex = matching
			endIndex = index + 1
		} else {
			endIndex--
		}
	}

	status.list = l
	l.statuses = append(l.statuses, nil)
	copy(l.statuses[index+1:], l.statuses[index:])
	l.statuses[index] = status
	if endIndex > len(l.statuses) {
		endIndex = len(l.statuses)
	}
	for idx := startIndex; idx < endIndex; idx++ {
		l.statuses[idx].setIndex(idx)
	}
}

// Remove detaches the status from the list. Statuses after it shift
// down by one.
func (l *StatusList) Remove(status *Status) error {
	index := l.indexOf(status)
	if index < 0 {
		return fmt.Errorf("status %q not in project", status.Name())
	}
	l.Pop(index)
	return nil
}

// RemoveByName removes the status with the exact name.
func (l *StatusList) RemoveByName(name string) error {
	status := l.Get(name)
	if status == nil {
		return fmt.Errorf("status %q not found in project", name)
	}
	return l.Remove(status)
}

// Pop removes and returns the status at index.
func (l *StatusList) Pop(index int) *Status {
	status := l.statuses[index]
	l.statuses = append(l.statuses[:index], l.statuses[index+1:]...)
	status.list = nil
	status.hasIndex = false
	for idx := index; idx < len(l.statuses); idx++ {
		l.statuses[idx].setIndex(idx)
	}
	return status
}

// Set replaces the whole catalog. The list counts as changed even when
// the new content equals the old one.
func (l *StatusList) Set(defs []StatusDef) error {
	if err := l.hydrate(defs, false); err != nil {
		return err
	}
	l.setCalled = true
	return nil
}

// Changed reports whether the catalog differs from the locked baseline.
func (l *StatusList) Changed() bool {
	if l.setCalled {
		return true
	}
	if l.originLength != len(l.statuses) {
		return true
	}
	for _, status := range l.statuses {
		if status.Changed() {
			return true
		}
	}
	return false
}

// Lock re-baselines the catalog and every status in it.
func (l *StatusList) Lock() {
	l.originLength = len(l.statuses)
	l.setCalled = false
	for _, status := range l.statuses {
		status.Lock()
	}
}

// ToDefs serializes the catalog. Scope is stripped when the server does
// not support it.
func (l *StatusList) ToDefs() []StatusDef {
	out := make([]StatusDef, 0, len(l.statuses))
	for _, status := range l.statuses {
		def := status.ToDef()
		if !l.scopeSupported {
			def.Scope = nil
		}
		out = append(out, def)
	}
	return out
}

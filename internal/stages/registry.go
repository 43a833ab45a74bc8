// Package stages maintains the ordered list of pipeline stages.
package stages

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

// ErrBuiltinStage is returned when deleting a non-editable stage.
var ErrBuiltinStage = errors.New("stages: built-in stage cannot be deleted")

// Colors is the palette offered for user-defined stages.
var Colors = []string{"blue", "green", "purple", "orange", "red", "yellow", "pink", "indigo"}

// Builtins returns the five built-in stages in pipeline order.
func Builtins() []models.Stage {
	return []models.Stage{
		{ID: models.StageLead, Title: "리드발굴", Description: "잠재 고객 발굴 및 초기 접촉", Color: "text-blue-700", BgColor: "bg-blue-100"},
		{ID: models.StageConsultation, Title: "상담진행", Description: "고객 니즈 파악 및 상담 진행", Color: "text-yellow-700", BgColor: "bg-yellow-100"},
		{ID: models.StageProposal, Title: "제안요청", Description: "견적서 및 제안서 요청", Color: "text-purple-700", BgColor: "bg-purple-100"},
		{ID: models.StageContract, Title: "계약진행", Description: "계약 협상 및 최종 검토", Color: "text-orange-700", BgColor: "bg-orange-100"},
		{ID: models.StageCompleted, Title: "완료/보류", Description: "계약 완료 또는 보류", Color: "text-green-700", BgColor: "bg-green-100"},
	}
}

func isBuiltin(id string) bool {
	return slices.Contains(models.CanonicalStages, id)
}

// Option configures a Registry.
type Option func(*Registry)

// WithFile persists the stage list to a YAML file.
func WithFile(path string) Option {
	return func(r *Registry) { r.path = path }
}

// WithClock overrides the clock used to derive new stage ids.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry is the ordered list of built-in and user-defined stages.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stages   []models.Stage
	lastID   int64
	watchers map[int]func([]models.Stage)
	nextW    int

	path   string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a registry seeded with the built-in stages, or with the
// contents of the stage file when one is configured and exists.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		stages:   Builtins(),
		watchers: make(map[int]func([]models.Stage)),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.path != "" {
		if err := r.load(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type stageFile struct {
	Stages []models.Stage `yaml:"stages"`
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stages: read %s: %w", r.path, err)
	}
	var f stageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("stages: parse %s: %w", r.path, err)
	}

	seen := make(map[string]bool, len(f.Stages))
	var loaded []models.Stage
	for _, s := range f.Stages {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		s.Editable = !isBuiltin(s.ID)
		loaded = append(loaded, s)
	}
	// Built-ins missing from the file keep their canonical slot at the front.
	var missing []models.Stage
	for _, b := range Builtins() {
		if !seen[b.ID] {
			missing = append(missing, b)
		}
	}
	r.stages = append(missing, loaded...)
	r.logger.Info("stages: loaded", slog.String("path", r.path), slog.Int("count", len(r.stages)))
	return nil
}

// save writes list to the stage file. Callers hold r.mu and install list
// only after save succeeds.
func (r *Registry) save(list []models.Stage) error {
	if r.path == "" {
		return nil
	}
	data, err := yaml.Marshal(stageFile{Stages: list})
	if err != nil {
		return fmt.Errorf("stages: encode: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("stages: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("stages: rename %s: %w", tmp, err)
	}
	return nil
}

// List returns a copy of the stages in display order.
func (r *Registry) List() []models.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.stages)
}

// Get returns the stage with the given id.
func (r *Registry) Get(id string) (models.Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(id)
	if i < 0 {
		return models.Stage{}, false
	}
	return r.stages[i], true
}

// Has reports whether id is a configured stage.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Label returns the display title of a stage. Orphaned ids are returned as is.
func (r *Registry) Label(id string) string {
	if s, ok := r.Get(id); ok {
		return s.Title
	}
	return id
}

func (r *Registry) indexOf(id string) int {
	return slices.IndexFunc(r.stages, func(s models.Stage) bool { return s.ID == id })
}

func validateStage(s *models.Stage) error {
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Title, validation.Required),
		validation.Field(&s.Description, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

func colorTokens(color string) (string, string, error) {
	if color == "" {
		color = Colors[0]
	}
	if !slices.Contains(Colors, color) {
		return "", "", fmt.Errorf("%w: unknown color %q", apperr.ErrInvalidInput, color)
	}
	return "text-" + color + "-700", "bg-" + color + "-100", nil
}

// Add appends a user-defined stage. Title and description are required.
func (r *Registry) Add(title, description, color string) (models.Stage, error) {
	s := models.Stage{Title: title, Description: description, Editable: true}
	if err := validateStage(&s); err != nil {
		return models.Stage{}, err
	}
	fg, bg, err := colorTokens(color)
	if err != nil {
		return models.Stage{}, err
	}
	s.Color, s.BgColor = fg, bg

	r.mu.Lock()
	id := r.now().UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	s.ID = "custom_" + strconv.FormatInt(id, 10)
	next := append(slices.Clone(r.stages), s)
	if err := r.save(next); err != nil {
		r.mu.Unlock()
		return models.Stage{}, err
	}
	r.lastID = id
	r.stages = next
	snapshot := slices.Clone(next)
	r.mu.Unlock()

	r.notify(snapshot)
	return s, nil
}

// Update replaces the stage with the same id in place.
// Colors given as palette names are expanded to display tokens.
func (r *Registry) Update(s models.Stage) (models.Stage, error) {
	if err := validateStage(&s); err != nil {
		return models.Stage{}, err
	}
	if slices.Contains(Colors, s.Color) {
		s.Color, s.BgColor, _ = colorTokens(s.Color)
	}

	r.mu.Lock()
	i := r.indexOf(s.ID)
	if i < 0 {
		r.mu.Unlock()
		return models.Stage{}, fmt.Errorf("stages: %s: %w", s.ID, apperr.ErrNotFound)
	}
	prev := r.stages[i]
	s.Editable = prev.Editable
	if s.Color == "" {
		s.Color = prev.Color
	}
	if s.BgColor == "" {
		s.BgColor = prev.BgColor
	}
	next := slices.Clone(r.stages)
	next[i] = s
	if err := r.save(next); err != nil {
		r.mu.Unlock()
		return models.Stage{}, err
	}
	r.stages = next
	snapshot := slices.Clone(next)
	r.mu.Unlock()

	r.notify(snapshot)
	return s, nil
}

// Delete removes a user-defined stage. Records that reference it keep the id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("stages: %s: %w", id, apperr.ErrNotFound)
	}
	if !r.stages[i].Editable {
		r.mu.Unlock()
		return ErrBuiltinStage
	}
	next := slices.Delete(slices.Clone(r.stages), i, i+1)
	if err := r.save(next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.stages = next
	snapshot := slices.Clone(next)
	r.mu.Unlock()

	r.notify(snapshot)
	return nil
}

// Watch registers fn to receive the stage list after every change.
// The returned function unregisters it.
func (r *Registry) Watch(fn func([]models.Stage)) func() {
	r.mu.Lock()
	id := r.nextW
	r.nextW++
	r.watchers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *Registry) notify(snapshot []models.Stage) {
	r.mu.RLock()
	fns := make([]func([]models.Stage), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(slices.Clone(snapshot))
	}
}

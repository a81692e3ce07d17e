package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// EngineFactory builds the rendering pipeline for one locale.
type EngineFactory func(ctx context.Context, v Voice) (Engine, error)

// mappedVoice picks a voice per language and keeps one engine per locale.
// Engines are built lazily on first use, at most once per locale, and live
// until Close.
type mappedVoice struct {
	voices   map[string]Voice
	fallback Voice
	factory  EngineFactory

	group   singleflight.Group
	mu      sync.RWMutex
	engines map[string]Engine
	closed  bool
}

// NewMappedVoice returns a Synthesizer that speaks in the user's language.
// voices maps language codes to voices; defaultLanguage must be one of them
// and is used for any unmapped language.
func NewMappedVoice(voices map[string]Voice, defaultLanguage string, factory EngineFactory, opts Options) (*Adapter, error) {
	if factory == nil {
		return nil, errors.New("mapped voice requires an engine factory")
	}
	table := make(map[string]Voice, len(voices))
	for lang, v := range voices {
		lang = strings.ToLower(strings.TrimSpace(lang))
		v.Language = lang
		table[lang] = v
	}
	fallback, ok := table[strings.ToLower(strings.TrimSpace(defaultLanguage))]
	if !ok {
		return nil, fmt.Errorf("default language %q has no voice", defaultLanguage)
	}
	return newAdapter("mapped", &mappedVoice{
		voices:   table,
		fallback: fallback,
		factory:  factory,
		engines:  make(map[string]Engine),
	}, opts), nil
}

func (m *mappedVoice) resolve(ctx context.Context, hint string) (Engine, Voice, error) {
	v, ok := m.voices[hint]
	if !ok {
		v = m.fallback
	}
	e, err := m.engineFor(ctx, v)
	return e, v, err
}

func (m *mappedVoice) engineFor(ctx context.Context, v Voice) (Engine, error) {
	m.mu.RLock()
	e, ok := m.engines[v.Locale]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, errors.New("synthesizer closed")
	}
	if ok {
		return e, nil
	}

	res, err, _ := m.group.Do(v.Locale, func() (any, error) {
		m.mu.RLock()
		e, ok := m.engines[v.Locale]
		m.mu.RUnlock()
		if ok {
			return e, nil
		}
		// Detached from ctx: the engine outlives the request that created it.
		e, err := m.factory(context.WithoutCancel(ctx), v)
		if err != nil {
			return nil, fmt.Errorf("start engine for %s: %w", v.Locale, err)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			_ = e.Close()
			return nil, errors.New("synthesizer closed")
		}
		m.engines[v.Locale] = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(Engine), nil
}

// engineCount reports how many locale pipelines have been built.
func (m *mappedVoice) engineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

func (m *mappedVoice) close() error {
	m.mu.Lock()
	m.closed = true
	engines := m.engines
	m.engines = map[string]Engine{}
	m.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

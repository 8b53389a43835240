package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/joshp123/thinq/internal/thinq"
)

// ErrUnsupportedModel means the backend has no descriptor for the model.
// Callers degrade to raw passthrough instead of failing the device.
var ErrUnsupportedModel = errors.New("no model descriptor for this model")

// Ref identifies a descriptor to load: which model, in which language, and
// where the catalog said the documents live.
type Ref struct {
	ModelName   string
	Language    string
	ModelURI    string
	LangPackURI string
}

func (r Ref) cacheKey() string {
	return r.ModelName + "|" + r.Language
}

type fetcher interface {
	FetchRaw(ctx context.Context, url string) ([]byte, error)
}

// Loader fetches and caches model capabilities. Cache entries are keyed by
// model and language together: the same model serves different label sets per
// market. Concurrent loads of the same key share one fetch, and a key is
// either fully populated or absent; failed loads leave nothing behind.
type Loader struct {
	client fetcher
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Capability
}

func NewLoader(client fetcher) *Loader {
	return &Loader{
		client: client,
		cache:  make(map[string]*Capability),
	}
}

func (l *Loader) Get(ctx context.Context, ref Ref) (*Capability, error) {
	if ref.ModelName == "" || ref.Language == "" {
		return nil, fmt.Errorf("model name and language are required")
	}
	key := ref.cacheKey()

	l.mu.RLock()
	cached, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err, _ := l.group.Do(key, func() (interface{}, error) {
		// Re-check under the group: a previous flight may have populated
		// the cache between our read and the Do call.
		l.mu.RLock()
		cached, ok := l.cache[key]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}

		capability, err := l.load(ctx, ref)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.cache[key] = capability
		l.mu.Unlock()
		return capability, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Capability), nil
}

func (l *Loader) load(ctx context.Context, ref Ref) (*Capability, error) {
	if ref.ModelURI == "" {
		return nil, ErrUnsupportedModel
	}

	descriptor, err := l.client.FetchRaw(ctx, ref.ModelURI)
	if err != nil {
		if errors.Is(err, thinq.ErrDeviceNotFound) {
			return nil, ErrUnsupportedModel
		}
		return nil, fmt.Errorf("fetch model %s: %w", ref.ModelName, err)
	}

	var langPack []byte
	if ref.LangPackURI != "" {
		langPack, err = l.client.FetchRaw(ctx, ref.LangPackURI)
		if err != nil {
			// Labels degrade to built-in fallbacks; the descriptor itself
			// is still usable.
			log.Printf("model: lang pack for %s (%s) unavailable: %v", ref.ModelName, ref.Language, err)
			langPack = nil
		}
	}

	capability, err := ParseCapability(descriptor, langPack)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", ref.ModelName, err)
	}
	if capability.ModelName == "" {
		capability.ModelName = ref.ModelName
	}
	return capability, nil
}

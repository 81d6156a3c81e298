// Package registry собирает включенные поисковые бэкенды из конфигурации.
package registry

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kitbuilder587/research-engine/internal/config"
	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/engine/baidu"
	"github.com/kitbuilder587/research-engine/internal/engine/bing"
	"github.com/kitbuilder587/research-engine/internal/engine/duckduckgo"
	"github.com/kitbuilder587/research-engine/internal/engine/googleapi"
	"github.com/kitbuilder587/research-engine/internal/engine/so360"
)

// Build возвращает включенные бэкенды в порядке приоритета, каждый под
// своим circuit breaker-ом. Неизвестное имя в конфигурации - ошибка.
func Build(cfg *config.Config, breaker engine.BreakerConfig, logger *zap.Logger) ([]engine.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(cfg.Engines))
	for name, ec := range cfg.Engines {
		if ec.Enabled {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, engine.ErrNoEnginesEnabled
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := cfg.Engines[names[i]].Priority, cfg.Engines[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})

	engines := make([]engine.Engine, 0, len(names))
	for _, name := range names {
		eng, err := build(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine.WithBreaker(eng, breaker, logger))
	}

	logger.Info("engines registered", zap.Strings("engines", names))
	return engines, nil
}

func build(name string, cfg *config.Config, logger *zap.Logger) (engine.Engine, error) {
	ec := cfg.Engines[name]
	// у поисковых запросов свой бюджет, бюджет выкачивания контента их не касается
	timeout := cfg.Research.RequestTimeout

	switch name {
	case "baidu":
		return baidu.New(baidu.Config{Timeout: timeout}, logger), nil
	case "bing":
		return bing.New(bing.Config{Timeout: timeout}, logger), nil
	case "duckduckgo":
		return duckduckgo.New(duckduckgo.Config{Timeout: timeout}, logger), nil
	case "so360":
		return so360.New(so360.Config{Timeout: timeout}, logger), nil
	case "google":
		return googleapi.New(googleapi.Config{
			APIKey:  ec.APIKey,
			CSEID:   ec.CSEID,
			Timeout: timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown search engine %q", name)
	}
}

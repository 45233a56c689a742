// Package sequence выдает монотонно растущие идентификаторы групп с префиксом типа.
package sequence

import (
	"context"
	"fmt"
	"slices"

	"github.com/xela07ax/groupflow/internal/domain"
)

const DefaultWidth = 10

var DefaultPrefixes = map[string]string{
	"distribution": "FRDIS",
	"security":     "FRSEC",
}

// DefaultValidatedTypes: типы, для которых имя группы выбирает человек.
var DefaultValidatedTypes = []string{"security"}

type Config struct {
	Backend        string            `mapstructure:"backend"` // db, redis
	Prefixes       map[string]string `mapstructure:"prefixes"`
	Width          int               `mapstructure:"width"`
	ValidatedTypes []string          `mapstructure:"validated_types"`
}

// Counter: единственное авторитетное хранилище счетчика.
// Increment обязан увеличить и прочитать значение одной атомарной операцией.
type Counter interface {
	Increment(ctx context.Context, groupType string) (int64, error)
}

type Generator struct {
	counter   Counter
	prefixes  map[string]string
	width     int
	validated []string
}

func NewGenerator(cfg Config, counter Counter) *Generator {
	g := &Generator{
		counter:   counter,
		prefixes:  cfg.Prefixes,
		width:     cfg.Width,
		validated: cfg.ValidatedTypes,
	}
	if len(g.prefixes) == 0 {
		g.prefixes = DefaultPrefixes
	}
	if g.width <= 0 {
		g.width = DefaultWidth
	}
	if g.validated == nil {
		g.validated = DefaultValidatedTypes
	}
	return g
}

// Types: типы групп, известные генератору.
func (g *Generator) Types() []string {
	out := make([]string, 0, len(g.prefixes))
	for t := range g.prefixes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (g *Generator) Known(groupType string) bool {
	_, ok := g.prefixes[groupType]
	return ok
}

// Validated сообщает, что тип обходит генератор: имя задает человек, а
// уникальность проверяется по каталогу.
func (g *Generator) Validated(groupType string) bool {
	return slices.Contains(g.validated, groupType)
}

// Next выдает следующий идентификатор: префикс + счетчик, дополненный нулями до ширины.
func (g *Generator) Next(ctx context.Context, groupType string) (string, error) {
	prefix, ok := g.prefixes[groupType]
	if !ok {
		return "", domain.Invalid("type", fmt.Sprintf("unknown group type %q", groupType))
	}
	n, err := g.counter.Increment(ctx, groupType)
	if err != nil {
		return "", fmt.Errorf("sequence %s: %w", groupType, err)
	}
	return Format(prefix, n, g.width), nil
}

// Format дополняет число нулями слева. Число шире width не обрезается.
func Format(prefix string, n int64, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

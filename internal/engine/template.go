package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

// Context — контекст для рендеринга Config job при компиляции DAG.
//
// Используется в Go templates:
//   - {{ .Flow.Group }}, {{ .Flow.Name }}, {{ .Flow.ExecutionID }}, {{ .Flow.DagID }}
//   - {{ .Props.key }}     — payload запуска
//   - {{ .Env.VAR_NAME }}
type Context struct {
	Flow  FlowContext       `json:"flow"`
	Props map[string]string `json:"props"`
	Env   map[string]string `json:"env"`
}

// FlowContext — идентичность запускаемого выполнения.
type FlowContext struct {
	Group       string `json:"group"`
	Name        string `json:"name"`
	ExecutionID int64  `json:"execution_id"`
	DagID       string `json:"dag_id"`
}

// NewContext создаёт контекст для DAG id с payload props.
func NewContext(id domain.DagID, props map[string]string) *Context {
	if props == nil {
		props = make(map[string]string)
	}
	return &Context{
		Flow: FlowContext{
			Group:       id.FlowGroup,
			Name:        id.FlowName,
			ExecutionID: id.FlowExecutionID,
			DagID:       id.String(),
		},
		Props: props,
		Env:   make(map[string]string),
	}
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	// formatMillis — форматирует unix-миллисекунды (UTC) по layout
	"formatMillis": func(layout string, ms int64) string {
		return time.UnixMilli(ms).UTC().Format(layout)
	},

	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
//
//	{{ .Props.target }}
//	{{ formatMillis "2006-01-02" .Flow.ExecutionID }}
func Render(tmpl string, ctx *Context) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderConfig рендерит все значения конфигурации job.
// nil-конфигурация остаётся nil.
func RenderConfig(config map[string]string, ctx *Context) (map[string]string, error) {
	if config == nil {
		return nil, nil
	}

	result := make(map[string]string, len(config))
	for key, val := range config {
		rendered, err := Render(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", key, err)
		}
		result[key] = rendered
	}
	return result, nil
}

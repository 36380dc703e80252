package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quiver/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// StrategyParams 为策略参数文件的内容，可在运行期热更新。
type StrategyParams struct {
	Universe []string `yaml:"universe"`
	Lookback int      `yaml:"lookback"`
	TopK     int      `yaml:"top_k"`
	Weight   float64  `yaml:"weight"`
}

// UniverseUpper 返回标准化后的 symbol 列表。
func (p StrategyParams) UniverseUpper() []string {
	out := make([]string, 0, len(p.Universe))
	for _, sym := range p.Universe {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ParamsSnapshot 对外暴露的只读快照。
type ParamsSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Params   StrategyParams
}

// ChangeListener 在参数文件变更时被调用。
type ChangeListener func(ParamsSnapshot)

// paramsSchema 约束参数文件的形状，拒绝越界或类型错误的热更新。
const paramsSchema = `{
  "type": "object",
  "required": ["universe", "lookback", "top_k", "weight"],
  "properties": {
    "universe": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "lookback": {"type": "integer", "minimum": 1},
    "top_k": {"type": "integer", "minimum": 1},
    "weight": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
  },
  "additionalProperties": false
}`

// ParamsLoader 负责从 YAML 文件加载策略参数，并监听热更新。
type ParamsLoader struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  ParamsSnapshot
	listeners []ChangeListener
}

// NewParamsLoader 读取参数文件并开始监听 FS 事件。
func NewParamsLoader(path string) (*ParamsLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("params loader requires path")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", strings.NewReader(paramsSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read params file failed: %w", err)
	}
	l := &ParamsLoader{path: path, v: v, schema: schema}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("strategy params reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot 返回当前参数快照。
func (l *ParamsLoader) Snapshot() ParamsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ParamsLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := l.snapshot
	l.mu.Unlock()
	go func() {
		defer safeRecover("params listener")
		fn(snap)
	}()
}

func (l *ParamsLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("params listener")
			cb(snap)
		}(fn)
	}
}

func (l *ParamsLoader) reload() error {
	params, err := readParamsFile(l.path, l.schema)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = ParamsSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Params:   params,
	}
	l.mu.Unlock()
	logger.Infof("策略参数已加载 universe=%d lookback=%d top_k=%d 来源=%s",
		len(params.Universe), params.Lookback, params.TopK, filepath.Base(l.path))
	return nil
}

func readParamsFile(path string, schema *jsonschema.Schema) (StrategyParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StrategyParams{}, fmt.Errorf("read params file failed: %w", err)
	}
	// 先以通用结构做 schema 校验，再解码进强类型。
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return StrategyParams{}, fmt.Errorf("parse params file failed: %w", err)
	}
	if err := schema.Validate(normalizeForSchema(generic)); err != nil {
		return StrategyParams{}, fmt.Errorf("params schema validation failed: %w", err)
	}
	var params StrategyParams
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&params); err != nil {
		return StrategyParams{}, fmt.Errorf("parse params file failed: %w", err)
	}
	params.Universe = params.UniverseUpper()
	return params, nil
}

// normalizeForSchema 将 yaml 解码出的 map[any]any 转为 jsonschema 可处理的形式。
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeForSchema(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = normalizeForSchema(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeForSchema(child)
		}
		return out
	case int:
		return float64(val)
	default:
		return val
	}
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

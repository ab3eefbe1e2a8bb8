package dsl

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

// Parser DSL 解析器
type Parser struct{}

// NewParser 创建 DSL 解析器
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string) (*DefinitionDSL, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析并验证 DSL
func (p *Parser) Parse(data []byte) (*DefinitionDSL, error) {
	var def DefinitionDSL
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrInvalidConfiguration, "parse YAML").WithCause(err)
	}

	if errs := NewValidator().Validate(&def); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, types.Errorf(types.ErrInvalidConfiguration,
			"definition %q: %s", def.Name, strings.Join(msgs, "; "))
	}
	return &def, nil
}

// Register 解析 data 并把定义注册到 registry
func (p *Parser) Register(registry *workflow.Registry, data []byte) (string, error) {
	def, err := p.Parse(data)
	if err != nil {
		return "", err
	}
	if err := registry.Register(def.Name, def.Configure); err != nil {
		return "", err
	}
	return def.Name, nil
}

// RegisterFile 同 Register，从文件读取
func (p *Parser) RegisterFile(registry *workflow.Registry, filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("read DSL file: %w", err)
	}
	return p.Register(registry, data)
}

// Configure 实现 workflow.ConfigureFunc。第一个参数若是
// map[string]any，则覆盖同名变量。
func (def *DefinitionDSL) Configure(b *workflow.Builder, args ...any) error {
	vars, err := def.resolveVariables(args)
	if err != nil {
		return err
	}

	// 先加入全部节点，再连边，允许引用文件中靠后的节点
	names := make(map[string]string, len(def.Jobs))
	for _, job := range def.Jobs {
		opts := []workflow.RunOption{}
		if job.ID != "" {
			opts = append(opts, workflow.WithJobID(job.ID))
		}
		if job.Queue != "" {
			opts = append(opts, workflow.OnQueue(job.Queue))
		}
		if len(job.Params) > 0 {
			opts = append(opts, workflow.WithParams(interpolateMap(job.Params, vars)))
		}

		var name string
		if job.Workflow != "" {
			if len(job.Args) > 0 {
				opts = append(opts, workflow.WithArgs(interpolateSlice(job.Args, vars)...))
			}
			name = b.Workflow(job.Workflow, opts...)
		} else {
			name = b.Run(job.Type, opts...)
		}
		names[job.handle()] = name
	}

	for _, job := range def.Jobs {
		self := names[job.handle()]
		for _, ref := range job.After {
			b.Edge(names[ref], self)
		}
		for _, ref := range job.Before {
			b.Edge(self, names[ref])
		}
	}
	return nil
}

// resolveVariables 合并默认值与调用方覆盖，检查必填变量
func (def *DefinitionDSL) resolveVariables(args []any) (map[string]any, error) {
	vars := make(map[string]any, len(def.Variables))
	for name, v := range def.Variables {
		if v.Default != nil {
			vars[name] = v.Default
		}
	}
	if len(args) > 0 {
		if overrides, ok := args[0].(map[string]any); ok {
			for k, v := range overrides {
				vars[k] = v
			}
		}
	}
	for name, v := range def.Variables {
		if _, ok := vars[name]; v.Required && !ok {
			return nil, types.Errorf(types.ErrInvalidInput, "definition %s: variable %s is required", def.Name, name)
		}
	}
	return vars, nil
}

// interpolate 变量插值（替换 ${var_name}）。整个值恰好是一个占位符时
// 保留变量原本的类型。
func interpolate(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") && strings.Count(v, "${") == 1 {
			if resolved, ok := vars[v[2:len(v)-1]]; ok {
				return resolved
			}
			return v
		}
		result := v
		for name, val := range vars {
			result = strings.ReplaceAll(result, "${"+name+"}", fmt.Sprintf("%v", val))
		}
		return result
	case map[string]any:
		return interpolateMap(v, vars)
	case []any:
		return interpolateSlice(v, vars)
	default:
		return v
	}
}

func interpolateMap(m map[string]any, vars map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = interpolate(v, vars)
	}
	return out
}

func interpolateSlice(s []any, vars map[string]any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = interpolate(v, vars)
	}
	return out
}
